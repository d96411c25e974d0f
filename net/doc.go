/*
Package net carries paxos.Messages between replicas. It does not handle
communication between replicas and clients.

A Network is both a Sender and a Demuxer. The Sender delivers a message to
one node; a message addressed to the local node goes straight to the local
Demuxer. The Demuxer hands incoming messages to the channel registered for
their quorum:

	in := make(chan *paxos.Message, 256)
	network.RegisterChannel(q.ID(), in)

Delivery in both directions is non-blocking. A full outgoing queue or a
full receiving channel drops the message, and the replication protocol
recovers from the loss.

TcpNetwork is the production implementation. Frames on the wire are a
little endian int32 length followed by a protocol buffer. Every connection
starts with an IDExchange/IDResponse handshake, and each connection has a
priority queue, used for lease traffic, that is drained before the normal
queue.

LocalNetwork connects replicas inside one process and is used in tests.
*/
package net

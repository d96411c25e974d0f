/*
Package paxos holds the types shared by the consensus components: log
positions, proposal ids, and the wire envelope (Message) with its closed set
of message types. Messages are encoded with protocol buffers.
*/
package paxos

/*
Package client is responsible for client-replica communication. A client
connects to the client port of a node, sends requests addressed to one
quorum, and receives one response per request.

Clients are handled through the use of ClientHandler and ClientConn. The
ClientHandler listens on a socket for connections from clients, does a
handshake with the client, and then creates a ClientConn, which reads the
requests of that client and hands them to a RequestHandler.

Only the leader of a quorum serves requests for it. Any other node answers
with StatusRedirect and the leader it knows of, or StatusNoLeader, and Conn
follows the redirect.
*/
package client

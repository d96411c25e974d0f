/*
Package quorum describes the static cluster layout: the nodes that exist
(NodeMap) and the replication groups they form (Quorum). A value is chosen
in a quorum once a majority of its members accepted it.
*/
package quorum

/*
Package storage keeps the durable state of a node in a directory:

	meta              gob encoded run id, and per quorum the highest
	                  proposal id and the acceptor state
	chosen-<q>.log    append-only log of chosen values of quorum q

The meta file is replaced atomically on every change. Chosen log records
carry a checksum; a torn record at the end of the file is dropped on open.
*/
package storage

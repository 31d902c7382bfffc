/*
Package coordinator implements the Append Coordinator: the single
writer path that serializes appends, enforces expected-version
semantics, assigns event numbers and log positions, and publishes
commit notifications.

# Architecture

	   Append(stream, expectedVersion, events)
	           |
	           v
	  +-----------------+
	  |   raft.Raft      |   single-voter bootstrap: gives the
	  |  (log/FSM/snap)  |   coordinator ordered, durable-before-ack
	  +--------+---------+   writes without real multi-node consensus
	           |
	           v
	  +-----------------+
	  | CoordinatorFSM  |   Apply: validate expected-version, assign
	  |   .Apply()      |   numbers, append to txlog, insert into index,
	  +--------+---------+   publish on the commit bus
	           |
	    +------+------+
	    v             v
	pkg/txlog     pkg/index

Raft's replicated log and FSM machinery is reused here purely to
serialize the single writer and to get its Snapshot/Restore durability
story; this coordinator always bootstraps a single-voter cluster and
never joins peers — multi-node membership and election are the
explicitly out-of-scope "cluster consensus" collaborator.

# Failure Handling

A raft Apply that returns an error during CommitTimeout or an I/O
failure mid-append is surfaced to the caller as ErrCommitTimeout;
recovery of any partial prepare-without-commit left in the log happens
at pkg/txlog.Open time, not here.
*/
package coordinator

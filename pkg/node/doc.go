/*
Package node assembles a runnable distacean cluster member: the storage
layer, the state machine, the raftnet.Transport and the underlying
raft.Raft instance. Node.WriteOrForwardToLeader is the single write entry
point pkg/kv calls into; GetReadLinearizer/AwaitLinearizer implement the
read-index/lease-read approximation this module uses in place of a
first-class read-index API.
*/
package node

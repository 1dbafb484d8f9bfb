/*
Package fsm implements the raft.FSM distacean replicates writes through.

Apply decodes a types.Command{Op, Data} envelope (the teacher's convention
for log entries), dedups on (client_id, seq_id) against the StateStore's
dedup table, dispatches Set/Del/Cas, and commits the result in one
StateStore.ApplyBatch call. Snapshot/Restore delegate directly to the
StateStore's own stream format.
*/
package fsm

/*
Package kv implements spec.md §4.F's typed client: SetRequest/ReadRequest
builders over pkg/node's WriteOrForwardToLeader and
GetReadLinearizer/AwaitLinearizer, plus a direct Delete.
*/
package kv

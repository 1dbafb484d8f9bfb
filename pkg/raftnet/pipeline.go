package raftnet

import (
	"time"

	"github.com/hashicorp/raft"
)

// AppendEntriesPipeline returns an unpipelined shim: each call issues a
// normal AppendEntries RPC from its own goroutine and posts the result to
// a buffered channel. This is not a true in-flight pipeline, but
// hashicorp/raft tolerates it — it is exactly what raft.NewTCPTransport
// itself falls back to when pipelining isn't warranted.
func (t *Transport) AppendEntriesPipeline(id raft.ServerID, target raft.ServerAddress) (raft.AppendPipeline, error) {
	return &pipeline{
		transport: t,
		id:        id,
		target:    target,
		doneCh:    make(chan raft.AppendFuture, 128),
		closeCh:   make(chan struct{}),
	}, nil
}

type pipeline struct {
	transport *Transport
	id        raft.ServerID
	target    raft.ServerAddress
	doneCh    chan raft.AppendFuture
	closeCh   chan struct{}
}

func (p *pipeline) AppendEntries(args *raft.AppendEntriesRequest, resp *raft.AppendEntriesResponse) (raft.AppendFuture, error) {
	future := &appendFuture{start: time.Now(), args: args, resp: resp, done: make(chan struct{})}
	go func() {
		future.err = p.transport.AppendEntries(p.id, p.target, args, resp)
		close(future.done)
		select {
		case p.doneCh <- future:
		case <-p.closeCh:
		}
	}()
	return future, nil
}

func (p *pipeline) Consumer() <-chan raft.AppendFuture {
	return p.doneCh
}

func (p *pipeline) Close() error {
	close(p.closeCh)
	return nil
}

type appendFuture struct {
	start time.Time
	args  *raft.AppendEntriesRequest
	resp  *raft.AppendEntriesResponse
	err   error
	done  chan struct{}
}

func (f *appendFuture) Error() error {
	<-f.done
	return f.err
}

func (f *appendFuture) Start() time.Time {
	return f.start
}

func (f *appendFuture) Request() *raft.AppendEntriesRequest {
	return f.args
}

func (f *appendFuture) Response() *raft.AppendEntriesResponse {
	return f.resp
}

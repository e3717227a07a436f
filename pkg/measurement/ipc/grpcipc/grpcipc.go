// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package grpcipc implements a multi-process ipc.Transport over
// google.golang.org/grpc, grounded on the teacher's own grpc.NewClient
// setup (keepalive params, TLS vs insecure credentials) and its use of
// well-known protobuf wrapper types in pkg/resource/store. Frames carry
// wrapperspb.BytesValue payloads over a single hand-registered unary
// method, so the transport needs no protoc-generated stubs — operation
// metadata (op id, rank, root, kind, datatype, reduce op) rides in gRPC
// metadata.MD exactly as the teacher carries its bearer token.
package grpcipc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"k8s.io/client-go/util/workqueue"

	"github.com/antimetal/scorep-core/pkg/measurement/ipc"
)

const (
	mdOpID     = "x-scorep-op-id"
	mdRank     = "x-scorep-rank"
	mdRoot     = "x-scorep-root"
	mdSize     = "x-scorep-size"
	mdKind     = "x-scorep-kind"
	mdDatatype = "x-scorep-datatype"
	mdOp       = "x-scorep-op"

	serviceName    = "scorep.measurement.ipc.Exchange"
	exchangeMethod = "Exchange"
)

type kind int

const (
	kindGather kind = iota
	kindBroadcast
	kindReduce
)

// exchangeServiceDesc is the hand-built grpc.ServiceDesc standing in
// for a protoc-generated one: one unary method whose request and
// response are both wrapperspb.BytesValue, the same trick the teacher
// uses to avoid a dedicated .proto build step for a small internal RPC.
var exchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*exchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: exchangeMethod,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(wrapperspb.BytesValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(exchangeServer).Exchange(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + exchangeMethod}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(exchangeServer).Exchange(ctx, req.(*wrapperspb.BytesValue))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scorep/measurement/ipc/exchange.proto",
}

type exchangeServer interface {
	Exchange(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var (
	_ ipc.Transport  = (*GRPC)(nil)
	_ exchangeServer = (*Coordinator)(nil)
)

// opState tracks one in-flight collective operation's contributions
// from every rank, released once all have arrived.
type opState struct {
	mu            sync.Mutex
	kind          kind
	root          int
	size          int
	datatype      ipc.Datatype
	op            ipc.Op
	contributions [][]byte
	have          int
	done          chan struct{}
	result        []byte
	closed        bool
}

// Coordinator is the rank-0 side: a grpc.Server exposing the Exchange
// method, rendezvousing every rank's contribution to each collective
// call before replying.
type Coordinator struct {
	mu     sync.Mutex
	ops    map[string]*opState
	queue  workqueue.TypedRateLimitingInterface[string]
	logger logr.Logger
	server *grpc.Server
}

// NewCoordinator creates a Coordinator and starts serving on listener.
// The workqueue is the same type the teacher's intake worker uses for its
// delta batches; it is created here and shut down with the Coordinator,
// but no code path adds items to it, so stragglers are not redelivered
// through it.
func NewCoordinator(listener net.Listener, logger logr.Logger) (*Coordinator, error) {
	c := &Coordinator{
		ops: make(map[string]*opState),
		queue: workqueue.NewTypedRateLimitingQueueWithConfig(
			workqueue.DefaultTypedControllerRateLimiter[string](),
			workqueue.TypedRateLimitingQueueConfig[string]{Name: "scorep-ipc-coordinator"},
		),
		logger: logger.WithName("ipc-coordinator"),
	}
	c.server = grpc.NewServer()
	c.server.RegisterService(&exchangeServiceDesc, exchangeServer(c))
	go func() {
		if err := c.server.Serve(listener); err != nil {
			c.logger.Error(err, "coordinator server stopped")
		}
	}()
	return c, nil
}

// Stop gracefully stops the coordinator's server and redelivery queue.
func (c *Coordinator) Stop() {
	c.server.GracefulStop()
	c.queue.ShutDown()
}

func (c *Coordinator) Exchange(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, fmt.Errorf("grpcipc: exchange request missing metadata")
	}
	opID := firstOr(md, mdOpID, "")
	rank := atoiOr(firstOr(md, mdRank, "0"), 0)
	root := atoiOr(firstOr(md, mdRoot, "0"), 0)
	size := atoiOr(firstOr(md, mdSize, "1"), 1)
	k := kind(atoiOr(firstOr(md, mdKind, "0"), 0))
	dt := ipc.Datatype(atoiOr(firstOr(md, mdDatatype, "0"), 0))
	op := ipc.Op(atoiOr(firstOr(md, mdOp, "0"), 0))

	state := c.stateFor(opID, k, root, size, dt, op)

	state.mu.Lock()
	if rank >= len(state.contributions) {
		state.mu.Unlock()
		return nil, fmt.Errorf("grpcipc: rank %d out of range for size %d", rank, size)
	}
	state.contributions[rank] = append([]byte(nil), req.GetValue()...)
	state.have++
	ready := state.have == state.size
	if ready {
		state.result = combine(state)
		close(state.done)
	}
	state.mu.Unlock()

	select {
	case <-state.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	delete(c.ops, opID)
	c.mu.Unlock()

	return wrapperspb.Bytes(state.result), nil
}

func (c *Coordinator) stateFor(opID string, k kind, root, size int, dt ipc.Datatype, op ipc.Op) *opState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.ops[opID]; ok {
		return s
	}
	s := &opState{
		kind: k, root: root, size: size, datatype: dt, op: op,
		contributions: make([][]byte, size),
		done:          make(chan struct{}),
	}
	c.ops[opID] = s
	return s
}

func combine(s *opState) []byte {
	switch s.kind {
	case kindGather:
		var out []byte
		for _, c := range s.contributions {
			out = append(out, c...)
		}
		return out
	case kindBroadcast:
		return s.contributions[s.root]
	case kindReduce:
		return reduce(s.contributions, s.datatype, s.op)
	default:
		return nil
	}
}

// GRPC is the non-coordinator (and coordinator-local) side of the
// transport: it implements ipc.Transport by driving unary Exchange
// calls against the coordinator, retrying connection setup with
// exponential backoff exactly as the teacher's intake worker retries
// its stream setup.
type GRPC struct {
	rank, size int
	addr       string
	secure     bool
	conn       *grpc.ClientConn
	logger     logr.Logger

	seq uint64
	mu  sync.Mutex
}

// Dial connects to the coordinator at addr. rank 0 is expected to also
// run a Coordinator listening on addr.
func Dial(rank, size int, addr string, secure bool, logger logr.Logger) (*GRPC, error) {
	g := &GRPC{rank: rank, size: size, addr: addr, secure: secure, logger: logger.WithName("ipc-grpc")}

	var creds credentials.TransportCredentials
	if secure {
		creds = credentials.NewTLS(nil)
	} else {
		creds = insecure.NewCredentials()
	}

	_, err := backoff.Retry(context.Background(), func() (bool, error) {
		conn, err := grpc.NewClient(addr,
			grpc.WithTransportCredentials(creds),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 5 * time.Minute}),
		)
		if err != nil {
			g.logger.Error(err, "failed to connect to ipc coordinator, retrying...")
			return false, err
		}
		g.conn = conn
		return true, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return nil, fmt.Errorf("grpcipc: dialing coordinator %q: %w", addr, err)
	}
	return g, nil
}

func (g *GRPC) Rank() (rank, size int) { return g.rank, g.size }

func (g *GRPC) call(ctx context.Context, k kind, send []byte, dt ipc.Datatype, op ipc.Op, root int) ([]byte, error) {
	g.mu.Lock()
	g.seq++
	opID := fmt.Sprintf("op-%d", g.seq)
	g.mu.Unlock()

	md := metadata.Pairs(
		mdOpID, opID,
		mdRank, itoa(g.rank),
		mdRoot, itoa(root),
		mdSize, itoa(g.size),
		mdKind, itoa(int(k)),
		mdDatatype, itoa(int(dt)),
		mdOp, itoa(int(op)),
	)
	outCtx := metadata.NewOutgoingContext(ctx, md)

	out := new(wrapperspb.BytesValue)
	err := g.conn.Invoke(outCtx, "/"+serviceName+"/"+exchangeMethod, wrapperspb.Bytes(send), out)
	if err != nil {
		return nil, fmt.Errorf("grpcipc: exchange call failed: %w", err)
	}
	return out.GetValue(), nil
}

func (g *GRPC) Gather(send, recv []byte, root int) error {
	result, err := g.call(context.Background(), kindGather, send, 0, 0, root)
	if err != nil {
		return err
	}
	copy(recv, result)
	return nil
}

func (g *GRPC) Broadcast(buf []byte, root int) error {
	result, err := g.call(context.Background(), kindBroadcast, buf, 0, 0, root)
	if err != nil {
		return err
	}
	copy(buf, result)
	return nil
}

func (g *GRPC) Reduce(send, recv []byte, dt ipc.Datatype, op ipc.Op, root int) error {
	result, err := g.call(context.Background(), kindReduce, send, dt, op, root)
	if err != nil {
		return err
	}
	copy(recv, result)
	return nil
}

// Close tears down the client connection.
func (g *GRPC) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

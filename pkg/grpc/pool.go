package grpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Pool 依目標地址快取 gRPC 連線，同一地址只保留一條可用連線
//
// 透過 PoolOption 設定的攔截器、預設 CallOption 與 outgoing metadata
// 會套用到 Pool 建立的每一條連線上。
type Pool struct {
	mu           sync.Mutex
	conns        map[string]*grpc.ClientConn
	interceptors []grpc.UnaryClientInterceptor
	callOpts     []grpc.CallOption
	metadata     []string
}

// PoolOption Pool 的配置選項
type PoolOption func(*Pool)

// WithInterceptor 加入一個 UnaryClientInterceptor，可重複使用，依加入順序串接
func WithInterceptor(interceptor grpc.UnaryClientInterceptor) PoolOption {
	return func(p *Pool) {
		p.interceptors = append(p.interceptors, interceptor)
	}
}

// WithCallOptions 設定每次呼叫的預設 CallOption
// 例如 grpc.CallContentSubtype("json") 讓所有呼叫都使用 JSON codec。
func WithCallOptions(opts ...grpc.CallOption) PoolOption {
	return func(p *Pool) {
		p.callOpts = append(p.callOpts, opts...)
	}
}

// WithOutgoingMetadata 每次呼叫都附上固定的 metadata (key, value 成對)
//
// 參數:
//
//	pairs: key1, value1, key2, value2 ... 例如呼叫者身分 x-user-id / x-user-role
func WithOutgoingMetadata(pairs ...string) PoolOption {
	return func(p *Pool) {
		p.metadata = append(p.metadata, pairs...)
	}
}

// NewPool 建立連線池
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{conns: make(map[string]*grpc.ClientConn)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// metadataInterceptor 把固定 metadata 附加到 outgoing context
func (p *Pool) metadataInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(metadata.AppendToOutgoingContext(ctx, p.metadata...), method, req, reply, cc, opts...)
}

// dialOptions 組出 Pool 層級的連線選項
func (p *Pool) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		// 帳務服務在私有網路內，不走 TLS
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		}),
	}

	interceptors := p.interceptors
	if len(p.metadata) > 0 {
		// metadata 先附上，後面的攔截器 (例如 logging) 才看得到
		interceptors = append([]grpc.UnaryClientInterceptor{p.metadataInterceptor}, interceptors...)
	}
	if len(interceptors) > 0 {
		opts = append(opts, grpc.WithChainUnaryInterceptor(interceptors...))
	}
	if len(p.callOpts) > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(p.callOpts...))
	}
	return opts
}

// GetConnection 取得目標的連線；不存在或已關閉時建立新連線 (lazy connect)
//
// 參數:
//
//	target: 目標地址，例如 "localhost:50051"
//	opts: 額外的連線選項，排在 Pool 預設選項之後
//
// 回傳:
//
//	*grpc.ClientConn: 連線
//	error: 建立失敗
func (p *Pool) GetConnection(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[target]; ok {
		if conn.GetState() != connectivity.Shutdown {
			return conn, nil
		}
		delete(p.conns, target)
	}

	conn, err := grpc.NewClient(target, append(p.dialOptions(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for target %s: %w", target, err)
	}
	p.conns[target] = conn
	return conn, nil
}

// Close 關閉所有連線
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for target, conn := range p.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", target, err))
		}
		delete(p.conns, target)
	}
	return errors.Join(errs...)
}

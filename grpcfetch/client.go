package grpcfetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eaglemoor/coalescer"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote Lookup service.
type Client struct {
	conn grpc.ClientConnInterface
	opts []grpc.CallOption
}

func NewClient(conn grpc.ClientConnInterface, opts ...grpc.CallOption) *Client {
	return &Client{conn: conn, opts: opts}
}

// BatchGet resolves keys of group in one call.
func (c *Client) BatchGet(ctx context.Context, group string, keys []string) (map[string]*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.conn.Invoke(ctx, batchGetMethod, encodeRequest(group, keys), out, c.opts...)
	if err != nil {
		return nil, err
	}

	return decodeResponse(out), nil
}

// Fetcher returns a fetch func for group.
func (c *Client) Fetcher(group string) coalescer.Fetcher[string, *structpb.Struct] {
	return func(ctx context.Context, keys []string) (map[string]*structpb.Struct, error) {
		return c.BatchGet(ctx, group, keys)
	}
}

// Typed decodes every struct returned by fetch into V through its JSON form.
func Typed[V any](fetch coalescer.Fetcher[string, *structpb.Struct]) coalescer.Fetcher[string, V] {
	return func(ctx context.Context, keys []string) (map[string]V, error) {
		items, err := fetch(ctx, keys)
		if err != nil {
			return nil, err
		}

		result := make(map[string]V, len(items))
		for key, item := range items {
			body, err := protojson.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("grpcfetch: encode %q: %w", key, err)
			}

			var v V
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, fmt.Errorf("grpcfetch: decode %q: %w", key, err)
			}

			result[key] = v
		}

		return result, nil
	}
}

// TypedHandler adapts a handler of plain values to Handler.
func TypedHandler[V any](h func(ctx context.Context, group string, keys []string) (map[string]V, error)) Handler {
	return func(ctx context.Context, group string, keys []string) (map[string]*structpb.Struct, error) {
		items, err := h(ctx, group, keys)
		if err != nil {
			return nil, err
		}

		result := make(map[string]*structpb.Struct, len(items))
		for key, item := range items {
			body, err := json.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("grpcfetch: encode %q: %w", key, err)
			}

			s := new(structpb.Struct)
			if err := protojson.Unmarshal(body, s); err != nil {
				return nil, fmt.Errorf("grpcfetch: encode %q: %w", key, err)
			}

			result[key] = s
		}

		return result, nil
	}
}

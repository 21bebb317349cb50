package grpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sharpscale/internal/storage"
)

// Dial opens a plaintext connection to a History service.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(addr, opts...)
}

// HistoryClient calls the History service.
type HistoryClient struct {
	cc grpc.ClientConnInterface
}

func NewHistoryClient(cc grpc.ClientConnInterface) *HistoryClient {
	return &HistoryClient{cc: cc}
}

// ListRuns returns up to limit recent runs, newest first.
func (c *HistoryClient) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listRunsMethod, wrapperspb.Int32(int32(limit)), out); err != nil {
		return nil, err
	}
	var body struct {
		Runs []storage.RunRecord `json:"runs"`
	}
	if err := fromStruct(out, &body); err != nil {
		return nil, err
	}
	return body.Runs, nil
}

// GetRun returns one run and its file results.
func (c *HistoryClient) GetRun(ctx context.Context, id string) (storage.RunRecord, []storage.FileRecord, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getRunMethod, wrapperspb.String(id), out); err != nil {
		return storage.RunRecord{}, nil, err
	}
	var body struct {
		Run   storage.RunRecord    `json:"run"`
		Files []storage.FileRecord `json:"files"`
	}
	if err := fromStruct(out, &body); err != nil {
		return storage.RunRecord{}, nil, err
	}
	return body.Run, body.Files, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

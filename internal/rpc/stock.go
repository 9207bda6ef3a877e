// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: June 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// StockService is the fully-qualified gRPC service name.
const StockService = "checkout.Stock"

// StockServer is implemented by the stock service.
type StockServer interface {
	FindItem(ctx context.Context, req *FindItemRequest) (*Item, error)
	AddStock(ctx context.Context, req *StockAdjustment) (*StockAdjustmentResponse, error)
	RemoveStock(ctx context.Context, req *StockAdjustment) (*StockAdjustmentResponse, error)
	BulkOrder(ctx context.Context, req *BulkStockAdjustment) (*BulkStockAdjustmentResponse, error)
	BulkRefund(ctx context.Context, req *BulkStockAdjustment) (*OperationResponse, error)
	VibeCheckTransactionStatus(ctx context.Context, req *TransactionStatus) (*TransactionStatus, error)
	PrepareSnapshot(ctx context.Context, req *Empty) (*OperationResponse, error)
	CheckSnapshotReady(ctx context.Context, req *Empty) (*OperationResponse, error)
	Snapshot(ctx context.Context, req *Empty) (*OperationResponse, error)
	ContinueConsuming(ctx context.Context, req *Empty) (*OperationResponse, error)
}

// unaryHandler adapts a typed method to the grpc method-handler shape,
// threading any configured interceptor.
func unaryHandler[Req any](fullMethod string, invoke func(srv interface{}, ctx context.Context, req *Req) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return invoke(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return invoke(srv, ctx, req.(*Req))
		})
	}
}

var stockServiceDesc = grpc.ServiceDesc{
	ServiceName: StockService,
	HandlerType: (*StockServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FindItem", Handler: unaryHandler("/checkout.Stock/FindItem",
			func(srv interface{}, ctx context.Context, req *FindItemRequest) (interface{}, error) {
				return srv.(StockServer).FindItem(ctx, req)
			})},
		{MethodName: "AddStock", Handler: unaryHandler("/checkout.Stock/AddStock",
			func(srv interface{}, ctx context.Context, req *StockAdjustment) (interface{}, error) {
				return srv.(StockServer).AddStock(ctx, req)
			})},
		{MethodName: "RemoveStock", Handler: unaryHandler("/checkout.Stock/RemoveStock",
			func(srv interface{}, ctx context.Context, req *StockAdjustment) (interface{}, error) {
				return srv.(StockServer).RemoveStock(ctx, req)
			})},
		{MethodName: "BulkOrder", Handler: unaryHandler("/checkout.Stock/BulkOrder",
			func(srv interface{}, ctx context.Context, req *BulkStockAdjustment) (interface{}, error) {
				return srv.(StockServer).BulkOrder(ctx, req)
			})},
		{MethodName: "BulkRefund", Handler: unaryHandler("/checkout.Stock/BulkRefund",
			func(srv interface{}, ctx context.Context, req *BulkStockAdjustment) (interface{}, error) {
				return srv.(StockServer).BulkRefund(ctx, req)
			})},
		{MethodName: "VibeCheckTransactionStatus", Handler: unaryHandler("/checkout.Stock/VibeCheckTransactionStatus",
			func(srv interface{}, ctx context.Context, req *TransactionStatus) (interface{}, error) {
				return srv.(StockServer).VibeCheckTransactionStatus(ctx, req)
			})},
		{MethodName: "PrepareSnapshot", Handler: unaryHandler("/checkout.Stock/PrepareSnapshot",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(StockServer).PrepareSnapshot(ctx, req)
			})},
		{MethodName: "CheckSnapshotReady", Handler: unaryHandler("/checkout.Stock/CheckSnapshotReady",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(StockServer).CheckSnapshotReady(ctx, req)
			})},
		{MethodName: "Snapshot", Handler: unaryHandler("/checkout.Stock/Snapshot",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(StockServer).Snapshot(ctx, req)
			})},
		{MethodName: "ContinueConsuming", Handler: unaryHandler("/checkout.Stock/ContinueConsuming",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(StockServer).ContinueConsuming(ctx, req)
			})},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterStockServer attaches a StockServer implementation to s.
func RegisterStockServer(s *grpc.Server, srv StockServer) {
	s.RegisterService(&stockServiceDesc, srv)
}

// StockClient calls the stock service.
type StockClient struct {
	cc grpc.ClientConnInterface
}

// NewStockClient wraps a connection opened with Dial.
func NewStockClient(cc grpc.ClientConnInterface) *StockClient {
	return &StockClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req interface{}) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockClient) FindItem(ctx context.Context, req *FindItemRequest) (*Item, error) {
	return invoke[Item](ctx, c.cc, "/checkout.Stock/FindItem", req)
}

func (c *StockClient) AddStock(ctx context.Context, req *StockAdjustment) (*StockAdjustmentResponse, error) {
	return invoke[StockAdjustmentResponse](ctx, c.cc, "/checkout.Stock/AddStock", req)
}

func (c *StockClient) RemoveStock(ctx context.Context, req *StockAdjustment) (*StockAdjustmentResponse, error) {
	return invoke[StockAdjustmentResponse](ctx, c.cc, "/checkout.Stock/RemoveStock", req)
}

func (c *StockClient) BulkOrder(ctx context.Context, req *BulkStockAdjustment) (*BulkStockAdjustmentResponse, error) {
	return invoke[BulkStockAdjustmentResponse](ctx, c.cc, "/checkout.Stock/BulkOrder", req)
}

func (c *StockClient) BulkRefund(ctx context.Context, req *BulkStockAdjustment) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Stock/BulkRefund", req)
}

func (c *StockClient) VibeCheckTransactionStatus(ctx context.Context, req *TransactionStatus) (*TransactionStatus, error) {
	return invoke[TransactionStatus](ctx, c.cc, "/checkout.Stock/VibeCheckTransactionStatus", req)
}

func (c *StockClient) PrepareSnapshot(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Stock/PrepareSnapshot", &Empty{})
}

func (c *StockClient) CheckSnapshotReady(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Stock/CheckSnapshotReady", &Empty{})
}

func (c *StockClient) Snapshot(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Stock/Snapshot", &Empty{})
}

func (c *StockClient) ContinueConsuming(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Stock/ContinueConsuming", &Empty{})
}

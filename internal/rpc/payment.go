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

// PaymentService is the fully-qualified gRPC service name.
const PaymentService = "checkout.Payment"

// PaymentServer is implemented by the payment service.
type PaymentServer interface {
	FindUser(ctx context.Context, req *FindUserRequest) (*FindUserResponse, error)
	AddFunds(ctx context.Context, req *AddFundsRequest) (*OperationResponse, error)
	ProcessPayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error)
	VibeCheckTransactionStatus(ctx context.Context, req *TransactionStatus) (*TransactionStatus, error)
	PrepareSnapshot(ctx context.Context, req *Empty) (*OperationResponse, error)
	CheckSnapshotReady(ctx context.Context, req *Empty) (*OperationResponse, error)
	Snapshot(ctx context.Context, req *Empty) (*OperationResponse, error)
	ContinueConsuming(ctx context.Context, req *Empty) (*OperationResponse, error)
}

var paymentServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentService,
	HandlerType: (*PaymentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FindUser", Handler: unaryHandler("/checkout.Payment/FindUser",
			func(srv interface{}, ctx context.Context, req *FindUserRequest) (interface{}, error) {
				return srv.(PaymentServer).FindUser(ctx, req)
			})},
		{MethodName: "AddFunds", Handler: unaryHandler("/checkout.Payment/AddFunds",
			func(srv interface{}, ctx context.Context, req *AddFundsRequest) (interface{}, error) {
				return srv.(PaymentServer).AddFunds(ctx, req)
			})},
		{MethodName: "ProcessPayment", Handler: unaryHandler("/checkout.Payment/ProcessPayment",
			func(srv interface{}, ctx context.Context, req *PaymentRequest) (interface{}, error) {
				return srv.(PaymentServer).ProcessPayment(ctx, req)
			})},
		{MethodName: "VibeCheckTransactionStatus", Handler: unaryHandler("/checkout.Payment/VibeCheckTransactionStatus",
			func(srv interface{}, ctx context.Context, req *TransactionStatus) (interface{}, error) {
				return srv.(PaymentServer).VibeCheckTransactionStatus(ctx, req)
			})},
		{MethodName: "PrepareSnapshot", Handler: unaryHandler("/checkout.Payment/PrepareSnapshot",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(PaymentServer).PrepareSnapshot(ctx, req)
			})},
		{MethodName: "CheckSnapshotReady", Handler: unaryHandler("/checkout.Payment/CheckSnapshotReady",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(PaymentServer).CheckSnapshotReady(ctx, req)
			})},
		{MethodName: "Snapshot", Handler: unaryHandler("/checkout.Payment/Snapshot",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(PaymentServer).Snapshot(ctx, req)
			})},
		{MethodName: "ContinueConsuming", Handler: unaryHandler("/checkout.Payment/ContinueConsuming",
			func(srv interface{}, ctx context.Context, req *Empty) (interface{}, error) {
				return srv.(PaymentServer).ContinueConsuming(ctx, req)
			})},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterPaymentServer attaches a PaymentServer implementation to s.
func RegisterPaymentServer(s *grpc.Server, srv PaymentServer) {
	s.RegisterService(&paymentServiceDesc, srv)
}

// PaymentClient calls the payment service.
type PaymentClient struct {
	cc grpc.ClientConnInterface
}

// NewPaymentClient wraps a connection opened with Dial.
func NewPaymentClient(cc grpc.ClientConnInterface) *PaymentClient {
	return &PaymentClient{cc: cc}
}

func (c *PaymentClient) FindUser(ctx context.Context, req *FindUserRequest) (*FindUserResponse, error) {
	return invoke[FindUserResponse](ctx, c.cc, "/checkout.Payment/FindUser", req)
}

func (c *PaymentClient) AddFunds(ctx context.Context, req *AddFundsRequest) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Payment/AddFunds", req)
}

func (c *PaymentClient) ProcessPayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, "/checkout.Payment/ProcessPayment", req)
}

func (c *PaymentClient) VibeCheckTransactionStatus(ctx context.Context, req *TransactionStatus) (*TransactionStatus, error) {
	return invoke[TransactionStatus](ctx, c.cc, "/checkout.Payment/VibeCheckTransactionStatus", req)
}

func (c *PaymentClient) PrepareSnapshot(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Payment/PrepareSnapshot", &Empty{})
}

func (c *PaymentClient) CheckSnapshotReady(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Payment/CheckSnapshotReady", &Empty{})
}

func (c *PaymentClient) Snapshot(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Payment/Snapshot", &Empty{})
}

func (c *PaymentClient) ContinueConsuming(ctx context.Context) (*OperationResponse, error) {
	return invoke[OperationResponse](ctx, c.cc, "/checkout.Payment/ContinueConsuming", &Empty{})
}

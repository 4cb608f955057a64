// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package reflectrpc implements a JSON-RPC 1.0 toolkit whose services
// describe their own contract at runtime.
//
// Every service built on this package exposes three reserved methods,
// __describe_service, __describe_functions and __describe_custom_types,
// so that a client can discover the full set of callable functions, their
// parameter and result types, and any enumeration or record types the
// service has registered, before making a call.
//
// The engine in this package (Registry, the validator and the Dispatcher)
// is transport agnostic. See the linetransport, httptransport, rpcserver
// and rpcclient subpackages for the framings and network glue described in
// the toolkit's wire-level contract.
package reflectrpc // import "github.com/reflectrpc/reflectrpc"

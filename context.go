// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

// CallContext carries the caller identity established by the listener
// (TLS client-certificate extraction or HTTP Basic Auth) into handlers
// that opt in via FunctionDescriptor.NeedsContext.
type CallContext struct {
	Authenticated bool
	Username      string
}

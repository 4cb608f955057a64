// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher owns a Registry and turns one raw request message into zero or
// one reply, per the 9-step algorithm in the toolkit's wire contract. It is
// transport agnostic: linetransport and httptransport each decode a
// message's bytes and hand them to Handle.
type Dispatcher struct {
	reg *Registry
	log *zap.Logger
}

// NewDispatcher returns a Dispatcher over reg. A nil logger is replaced
// with zap.NewNop(), the same default the teacher's Conn used.
func NewDispatcher(reg *Registry, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{reg: reg, log: log}
}

// onReply is invoked with the fully-formed reply bytes for one request, or
// never for a notification. Deferred handlers call it asynchronously from
// the completion continuation, so implementations (the line and HTTP
// framers) must treat delivery as out-of-band with respect to the call to
// Handle.
type onReply func(data []byte)

// Handle implements the dispatcher algorithm in full: JSON parse, envelope
// validation, notification detection, builtin routing, lookup, optional
// parameter validation, handler invocation and reply/error assembly. emit
// is called exactly once with the serialized reply, unless req is a
// notification, in which case emit is never called.
func (d *Dispatcher) Handle(ctx context.Context, cc *CallContext, raw []byte, emit onReply) {
	// Step 1: parse.
	env, parseErr := parseEnvelope(raw)
	if parseErr != nil {
		id := idUnreadable
		if env.idReadable {
			id = env.id
		}
		d.log.Debug("reflectrpc: invalid request", zap.Error(parseErr))
		if !env.notification {
			emit(errorReply(id, parseErr))
		}
		return
	}

	// Steps 2-3 already folded into parseEnvelope; env.notification set.
	if env.notification {
		d.dispatchNotification(ctx, cc, env)
		return
	}

	d.dispatch(ctx, cc, env, emit)
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, cc *CallContext, env envelope) {
	d.dispatch(ctx, cc, env, func([]byte) {
		// Notifications never emit a reply; errors were already logged by
		// dispatch before reaching this point.
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, cc *CallContext, env envelope, emit onReply) {
	// Step 4: builtin routing.
	if reservedBuiltins[env.method] {
		result, err := d.invokeBuiltin(env.method)
		d.finish(env, result, err, emit)
		return
	}

	// Step 5: lookup.
	fd, ok := d.reg.Lookup(env.method)
	if !ok {
		err := invalidRequestf("Method %q not found, see __describe_functions for the list of available methods", env.method)
		d.reply(env, nil, err, emit)
		return
	}

	values, decErr := decodeValues(env.params)
	if decErr != nil {
		d.reply(env, nil, invalidRequestf("Field 'params' contains invalid JSON"), emit)
		return
	}

	// Step 6: parameter validation.
	if fd.ValidateParams {
		if verr := validateParams(fd, d.reg, values); verr != nil {
			d.reply(env, nil, verr, emit)
			return
		}
	} else if len(values) != len(fd.Params) {
		d.reply(env, nil, paramErrorf("Expected %d parameters for '%s' but got %d", len(fd.Params), fd.Name, len(values)), emit)
		return
	}

	// Step 7: invoke.
	callCC := cc
	if !fd.NeedsContext {
		callCC = nil
	}
	result, err := fd.Handler(ctx, callCC, values)
	if err != nil {
		d.finish(env, nil, err, emit)
		return
	}

	// Step 8: deferred vs immediate.
	if deferred, ok := result.(Deferred); ok {
		deferred.Subscribe(func(res interface{}, derr error) {
			d.finish(env, res, derr, emit)
		})
		return
	}

	d.finish(env, result, nil, emit)
}

// finish implements step 9: domain-vs-internal error demotion, then emits
// (or, for notifications, logs and swallows) the reply.
func (d *Dispatcher) finish(env envelope, result interface{}, err error, emit onReply) {
	if err == nil {
		d.reply(env, result, nil, emit)
		return
	}

	rpcErr, ok := err.(*Error)
	if !ok {
		rpcErr = WrapInternal(err)
	}
	if rpcErr.Name == KindInternalError {
		d.log.Error("reflectrpc: handler failed", zap.String("method", env.method), zap.Error(rpcErr))
	}
	d.reply(env, nil, rpcErr, emit)
}

// reply serializes the outcome and, for notifications, swallows it instead
// of calling emit.
func (d *Dispatcher) reply(env envelope, result interface{}, err *Error, emit onReply) {
	if env.notification {
		if err != nil {
			d.log.Debug("reflectrpc: notification failed", zap.String("method", env.method), zap.Error(err))
		}
		return
	}
	if err != nil {
		emit(errorReply(env.id, err))
		return
	}
	data, mErr := wireJSON.Marshal(result)
	if mErr != nil {
		emit(errorReply(env.id, WrapInternal(mErr)))
		return
	}
	emit(resultReply(env.id, data))
}

func (d *Dispatcher) invokeBuiltin(method string) (interface{}, error) {
	switch method {
	case DescribeService:
		return d.describeService(), nil
	case DescribeFunctions:
		return d.describeFunctions(), nil
	case DescribeCustomTypes:
		return d.describeCustomTypes(), nil
	default:
		return nil, Errorf(KindInternalError, "unreachable: unrecognized builtin %q", method)
	}
}

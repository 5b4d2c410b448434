package app

import (
	"context"
	"net/http"

	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/internal/transport"
)

// adapterFactory builds the pool.Factory that turns an instance id into a
// not-yet-connected transport.Adapter, dispatching on the instance's
// template transport kind (spec §4.2/§4.7).
func adapterFactory(st *store.Store, bus *eventbus.Bus, onExit transport.ExitHandler) func(ctx context.Context, instanceID string) (transport.Adapter, error) {
	return func(ctx context.Context, instanceID string) (transport.Adapter, error) {
		inst, ok := st.GetInstance(instanceID)
		if !ok {
			return nil, gwerrors.New(gwerrors.NotFound, "unknown instance: "+instanceID)
		}
		return buildAdapter(inst.Template, instanceID, bus, onExit)
	}
}

func buildAdapter(tpl store.Template, instanceID string, bus *eventbus.Bus, onExit transport.ExitHandler) (transport.Adapter, error) {
	switch tpl.Transport {
	case store.TransportSubprocess:
		return transport.NewSubprocessAdapter(tpl.Command, tpl.Args, tpl.Env, instanceID, bus, onExit), nil
	case store.TransportHTTP:
		return transport.NewHTTPAdapter(tpl.BaseURL, 0, authDecoratorFor(tpl.Auth)), nil
	case store.TransportHTTPStream:
		return transport.NewHTTPStreamAdapter(tpl.BaseURL+"/stream", tpl.BaseURL+"/sink", authDecoratorFor(tpl.Auth)), nil
	default:
		return nil, gwerrors.New(gwerrors.InvalidArgument, "unknown transport kind: "+string(tpl.Transport))
	}
}

// authDecoratorFor turns a template's optional AuthDescriptor into the
// request decorator the HTTP/HttpStream adapters apply to every outbound
// request. "bearer" or an empty Type sets a standard "Authorization:
// Bearer <token>" header; any other Type sets Header (Authorization when
// Header is empty) to the raw token.
func authDecoratorFor(descriptor *store.AuthDescriptor) func(*http.Request) {
	if descriptor == nil || descriptor.Token == "" {
		return nil
	}
	return func(r *http.Request) {
		switch descriptor.Type {
		case "bearer", "":
			r.Header.Set("Authorization", "Bearer "+descriptor.Token)
		default:
			header := descriptor.Header
			if header == "" {
				header = "Authorization"
			}
			r.Header.Set(header, descriptor.Token)
		}
	}
}

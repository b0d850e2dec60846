// Package server exposes the multisig service over UCAN RPC and a JSON query
// API.
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	ucantoServer "github.com/storacha/go-ucanto/server"
	thttp "github.com/storacha/go-ucanto/transport/http"

	"github.com/relves/quorumsig/pkg/capabilities"
)

// NewServer creates a UCAN multisig server with optional validation.
//
// Every method is registered with full UCAN authorization: the invocation
// must be signed by its issuer, and the issuer must hold the authority of
// the capability resource (directly or through delegation).
//
// Parameters:
//   - opts: Configuration options (WithSigner, WithService, WithValidator, WithLogger)
//
// Returns a UCanto server ready to handle HTTP requests.
func NewServer(opts ...Option) (ucantoServer.ServerView[ucantoServer.Service], error) {
	cfg := applyOptions(opts...)

	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("service is required")
	}
	if did := cfg.Signer.DID().String(); did != string(cfg.Service.Program()) {
		return nil, fmt.Errorf("signer %s is not the program identity %s", did, cfg.Service.Program())
	}

	h := handlers{svc: cfg.Service}

	return ucantoServer.NewServer(
		cfg.Signer,
		ucantoServer.WithServiceMethod(
			capabilities.MultisigCreate.Can(),
			ucantoServer.Provide(capabilities.MultisigCreate, handle(cfg.Validator, cfg.Logger, h.create)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.MultisigPropose.Can(),
			ucantoServer.Provide(capabilities.MultisigPropose, handle(cfg.Validator, cfg.Logger, h.propose)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.MultisigApprove.Can(),
			ucantoServer.Provide(capabilities.MultisigApprove, handle(cfg.Validator, cfg.Logger, h.approve)),
		),
		// Anyone may execute once quorum is reached; the resource is not used.
		ucantoServer.WithServiceMethod(
			capabilities.MultisigExecute.Can(),
			ucantoServer.Provide(capabilities.MultisigExecute, handle(cfg.Validator, cfg.Logger, h.execute)),
		),
	)
}

// NewRPCHandler serves UCAN RPC requests with srv. Mount it at POST /.
func NewRPCHandler(srv ucantoServer.ServerView[ucantoServer.Service]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := thttp.NewRequest(r.Body, r.Header)

		res, err := srv.Request(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for name, values := range res.Headers() {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}

		if res.Status() != 0 {
			w.WriteHeader(res.Status())
		}

		body := res.Body()
		io.Copy(w, body)
		body.Close()
	}
}

package server_test

import (
	"testing"

	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/stretchr/testify/require"

	"github.com/relves/quorumsig/pkg/server"
)

func TestNewServerRequiresParameters(t *testing.T) {
	_, err := server.NewServer()
	require.Error(t, err)
	require.Contains(t, err.Error(), "signer is required")

	s, err := signer.Generate()
	require.NoError(t, err)
	_, err = server.NewServer(server.WithSigner(s))
	require.Error(t, err)
	require.Contains(t, err.Error(), "service is required")
}

func TestNewServerRequiresProgramIdentity(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)

	_, err = server.NewServer(server.WithSigner(s), server.WithService(newService(t, "did:key:z6MkOther")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not the program identity")

	_, err = server.NewServer(server.WithSigner(s), server.WithService(newService(t, s.DID().String())))
	require.NoError(t, err)
}

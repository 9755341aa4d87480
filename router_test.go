package pontifex

import (
	"context"
	"errors"
	"testing"

	"github.com/Amnesic-Systems/pontifex/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingReq struct {
	Message string `cbor:"message"`
}

type pingRes struct {
	Echoed string `cbor:"echoed"`
}

func TestHandleDuplicateRoute(t *testing.T) {
	router := New("state")
	handler := func(_ context.Context, _ string, req pingReq) (pingRes, error) {
		return pingRes{Echoed: req.Message}, nil
	}

	require.NoError(t, Handle(router, NewRoute[pingReq, pingRes]("ping_v1"), handler))
	require.NoError(t, Handle(router, NewRoute[pingReq, pingRes]("ping_v2"), handler))

	err := Handle(router, NewRoute[pingReq, pingRes]("ping_v1"), handler)
	assert.ErrorIs(t, err, ErrDuplicateRoute)
}

func TestDispatch(t *testing.T) {
	type state struct{ prefix string }

	router := New(&state{prefix: "got: "})
	require.NoError(t, Handle(router, NewRoute[pingReq, pingRes]("ping_v1"),
		func(_ context.Context, s *state, req pingReq) (pingRes, error) {
			return pingRes{Echoed: s.prefix + req.Message}, nil
		},
	))
	require.NoError(t, Handle(router, NewRoute[pingReq, pingRes]("fail_v1"),
		func(_ context.Context, _ *state, _ pingReq) (pingRes, error) {
			return pingRes{}, errors.New("handler says no")
		},
	))

	encode := func(v any) []byte {
		b, err := wire.Marshal(v)
		require.NoError(t, err)
		return b
	}

	cases := []struct {
		name     string
		route    string
		payload  []byte
		wantCode string
		wantErr  string
		want     *pingRes
	}{
		{
			name:    "success",
			route:   "ping_v1",
			payload: encode(&pingReq{Message: "hi"}),
			want:    &pingRes{Echoed: "got: hi"},
		},
		{
			name:     "unknown route",
			route:    "nope_v1",
			payload:  encode(&pingReq{Message: "hi"}),
			wantCode: wire.CodeUnknownRoute,
		},
		{
			name:     "request shape mismatch",
			route:    "ping_v1",
			payload:  encode(&struct{ Bogus int }{Bogus: 1}),
			wantCode: wire.CodeTypeMismatch,
		},
		{
			name:    "handler failure",
			route:   "fail_v1",
			payload: encode(&pingReq{}),
			wantErr: "handler says no",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			reply := router.dispatch(context.Background(), c.route, c.payload)

			if c.wantCode != "" {
				assert.Equal(t, c.wantCode, reply.Code)
				assert.NotEmpty(t, reply.Error)
				return
			}
			if c.wantErr != "" {
				assert.Empty(t, reply.Code)
				assert.Equal(t, c.wantErr, reply.Error)
				return
			}

			require.Empty(t, reply.Error)
			var got pingRes
			require.NoError(t, wire.Unmarshal(reply.Payload, &got))
			assert.Equal(t, *c.want, got)
		})
	}
}

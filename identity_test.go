package asyncq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		in        string
		key       string
		kind      QueueKind
		creatable bool
	}{
		{"orders", "orders", KindPublic, true},
		{`Server\Orders`, "server/orders", KindPublic, true},
		{`.\Orders`, "orders", KindPublic, true},
		{`Private$\Orders`, "private$/orders", KindPrivate, true},
		{`.\Private$\clientTest`, "private$/clienttest", KindPrivate, true},
		{"localhost/private$/orders", "private$/orders", KindPrivate, true},
		{`server\private$\orders`, "server/private$/orders", KindRemotePrivate, false},
		{`FormatName:DIRECT=OS:server\private$\orders`, "formatname:direct=os:server/private$/orders", KindFormatName, false},
		{"FORMATNAME:MULTICAST=234.1.1.1:8001", "formatname:multicast=234.1.1.1:8001", KindFormatName, false},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			id, err := ParseIdentity(test.in)
			require.NoError(t, err)
			assert.Equal(t, test.in, id.String())
			assert.Equal(t, test.key, id.Key())
			assert.Equal(t, test.kind, id.Kind())
			assert.Equal(t, test.creatable, id.Creatable())
		})
	}
}

func TestParseIdentityInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "a//b", `private$`, `server\private$`, "formatname:", "a/b/c", `a\b\c\d`} {
		_, err := ParseIdentity(in)
		assert.ErrorIs(t, err, ErrInvalidIdentity, "%q", in)
	}
}

func TestQueueKindString(t *testing.T) {
	assert.Equal(t, "private", KindPrivate.String())
	assert.Equal(t, "format-name", KindFormatName.String())
	assert.Equal(t, "QueueKind(9)", QueueKind(9).String())
}

package protocol

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMarshalsPayload(t *testing.T) {
	msg, err := New(TypeLoadExtension, &LoadPayload{ExtensionID: "acme.foo", Path: "/ext/acme.foo"})
	require.NoError(t, err)
	assert.Equal(t, TypeLoadExtension, msg.Type)
	assert.Empty(t, msg.ID)

	var payload LoadPayload
	require.NoError(t, msg.Decode(&payload))
	assert.Equal(t, "acme.foo", payload.ExtensionID)
	assert.Equal(t, "/ext/acme.foo", payload.Path)
}

func TestNewCorrelatedAssignsUniqueIDs(t *testing.T) {
	first, err := NewCorrelated(TypeExecuteCommand, &CommandPayload{Command: "a"})
	require.NoError(t, err)
	second, err := NewCorrelated(TypeExecuteCommand, &CommandPayload{Command: "b"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.ID, "msg_"))
	assert.True(t, strings.HasPrefix(second.ID, "msg_"))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestDecodeWithoutPayloadFails(t *testing.T) {
	msg := &Message{Type: TypeReady}
	var payload LoadPayload
	assert.Error(t, msg.Decode(&payload))
}

func TestNewErrorCarriesRequestID(t *testing.T) {
	msg := NewError("msg_123", io.ErrUnexpectedEOF)
	assert.Equal(t, "msg_123", msg.ID)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), msg.Error)
}

func TestCodecRoundTrip(t *testing.T) {
	hostIn, runtimeOut := io.Pipe()
	sender := NewCodec(strings.NewReader(""), runtimeOut)
	receiver := NewCodec(hostIn, io.Discard)

	go func() {
		for _, command := range []string{"one", "two", "three"} {
			msg, _ := New(TypeRegisterCommand, &CommandPayload{Command: command})
			sender.Encode(msg)
		}
		runtimeOut.Close()
	}()

	var got []string
	for {
		msg, err := receiver.Decode()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		var payload CommandPayload
		require.NoError(t, msg.Decode(&payload))
		got = append(got, payload.Command)
	}

	// FIFO within one direction
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestCodecToleratesBlankLines(t *testing.T) {
	input := "\n\n" + `{"type":"ready"}` + "\n"
	codec := NewCodec(strings.NewReader(input), io.Discard)

	msg, err := codec.Decode()
	require.NoError(t, err)
	assert.Equal(t, TypeReady, msg.Type)
}

func TestCodecRejectsMissingType(t *testing.T) {
	codec := NewCodec(strings.NewReader(`{"id":"msg_1"}`+"\n"), io.Discard)
	_, err := codec.Decode()
	assert.ErrorContains(t, err, "missing type")
}

func TestCodecRejectsMalformedFrame(t *testing.T) {
	codec := NewCodec(strings.NewReader("not json\n"), io.Discard)
	_, err := codec.Decode()
	assert.Error(t, err)
}

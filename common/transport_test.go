package common

import (
	"io"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrezn/devtools-protocol/log"
)

// rawPipeTransport returns a transport whose incoming bytes the test
// controls directly, plus the writer feeding it and a reader observing
// what the transport sends.
func rawPipeTransport(t *testing.T) (*PipeTransport, *io.PipeWriter, *io.PipeReader) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	tr := NewPipeTransport(inR, outW, log.NewNullLogger())
	t.Cleanup(func() { _ = tr.Close() })
	return tr, inW, outR
}

func TestPipeTransportRecv(t *testing.T) {
	t.Parallel()

	t.Run("single message", func(t *testing.T) {
		t.Parallel()

		tr, in, _ := rawPipeTransport(t)
		go func() {
			_, _ = in.Write([]byte(`{"id":7,"result":{"ok":true}}` + "\x00"))
		}()

		msg, err := tr.Recv()
		require.NoError(t, err)
		assert.Equal(t, int64(7), msg.ID)
		assert.JSONEq(t, `{"ok":true}`, string(msg.Result))
	})

	t.Run("split across writes", func(t *testing.T) {
		t.Parallel()

		tr, in, _ := rawPipeTransport(t)
		go func() {
			_, _ = in.Write([]byte(`{"id":1,"re`))
			_, _ = in.Write([]byte(`sult":{}}` + "\x00"))
		}()

		msg, err := tr.Recv()
		require.NoError(t, err)
		assert.Equal(t, int64(1), msg.ID)
	})

	t.Run("several messages in one write", func(t *testing.T) {
		t.Parallel()

		tr, in, _ := rawPipeTransport(t)
		go func() {
			_, _ = in.Write([]byte(`{"id":1}` + "\x00" + `{"id":2}` + "\x00"))
		}()

		msg, err := tr.Recv()
		require.NoError(t, err)
		assert.Equal(t, int64(1), msg.ID)

		msg, err = tr.Recv()
		require.NoError(t, err)
		assert.Equal(t, int64(2), msg.ID)
	})

	t.Run("empty frames are skipped", func(t *testing.T) {
		t.Parallel()

		tr, in, _ := rawPipeTransport(t)
		go func() {
			_, _ = in.Write([]byte("\x00\x00" + `{"id":3}` + "\x00"))
		}()

		msg, err := tr.Recv()
		require.NoError(t, err)
		assert.Equal(t, int64(3), msg.ID)
	})

	t.Run("peer close surfaces transport closed", func(t *testing.T) {
		t.Parallel()

		tr, in, _ := rawPipeTransport(t)
		go func() {
			_, _ = in.Write([]byte(`{"id":1}` + "\x00" + `{"partial`))
			_ = in.Close()
		}()

		msg, err := tr.Recv()
		require.NoError(t, err)
		assert.Equal(t, int64(1), msg.ID)

		_, err = tr.Recv()
		require.ErrorIs(t, err, ErrTransportClosed)
	})
}

func TestPipeTransportSend(t *testing.T) {
	t.Parallel()

	tr, _, out := rawPipeTransport(t)

	frames := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _ := out.Read(buf)
		frames <- buf[:n]
	}()

	err := tr.Send(&cdproto.Message{
		ID:     42,
		Method: "Target.getTargets",
		Params: easyjson.RawMessage(`{}`),
	})
	require.NoError(t, err)

	frame := <-frames
	require.NotEmpty(t, frame)
	assert.Equal(t, byte(0x00), frame[len(frame)-1], "frame must be NUL terminated")
	assert.NotContains(t, string(frame[:len(frame)-1]), "\n", "wire format is newline free")
	assert.JSONEq(t, `{"id":42,"method":"Target.getTargets","params":{}}`, string(frame[:len(frame)-1]))
}

func TestPipeTransportClose(t *testing.T) {
	t.Parallel()

	tr, _, _ := rawPipeTransport(t)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "close must be idempotent")

	err := tr.Send(&cdproto.Message{ID: 1})
	require.ErrorIs(t, err, ErrTransportClosed)

	_, err = tr.Recv()
	require.ErrorIs(t, err, ErrTransportClosed)
}

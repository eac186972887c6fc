package transport

import (
	"errors"
	"io"
	"os"

	"go.uber.org/zap"
)

// OpenAccessory wraps an already authorized accessory into a sink. open is provided by the
// accessory backend and returns the raw byte stream of the accessory.
func OpenAccessory(log *zap.Logger, name string, open func() (io.WriteCloser, error)) (Sink, error) {
	w, err := open()
	switch {
	case errors.Is(err, os.ErrPermission):
		return nil, &ConnectError{Kind: ConnectNotAuthorized, Err: err}
	case errors.Is(err, os.ErrNotExist):
		return nil, &ConnectError{Kind: ConnectNotFound, Err: err}
	case err != nil:
		return nil, &ConnectError{Kind: ConnectRefused, Err: err}
	case w == nil:
		return nil, &ConnectError{Kind: ConnectRefused, Err: errors.New("accessory returned no stream")}
	}
	log.Info("Accessory opened", zap.String("accessory", name))
	return newStreamSink(log, "accessory/"+name, w, w), nil
}

// Package collab implements the realtime document synchronization engine: it
// authenticates socket.io connections, tracks per-document rooms, and relays
// whole-content edits between connected peers while keeping the store
// consistent.
package collab

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"github.com/ved-shetye/SyncScript/handlers/auth"
)

// SetupSocketIO builds the socket.io server for the collaboration engine.
// Connections present a JWT in the handshake auth payload; a connection that
// fails verification is disconnected before any document event handler is
// registered, so no room operation is reachable for it.
func SetupSocketIO(engine *Engine) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		claims, err := authenticateSocket(socket)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"socket_id": socket.Id(),
			}).WithError(err).Warn("Refusing unauthenticated connection")
			_ = socket.Emit(EventError, "Authentication error")
			socket.Disconnect(true)
			return
		}

		sess := NewSession(string(socket.Id()), claims.Subject, socket)
		logrus.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"subject":    sess.Subject,
		}).Info("Session connected")

		socket.On(EventJoinDocument, func(datas ...any) {
			if len(datas) == 0 {
				sess.Emit(EventError, msgBadPayload)
				return
			}
			documentID, ok := datas[0].(string)
			if !ok || documentID == "" {
				sess.Emit(EventError, msgBadPayload)
				return
			}
			engine.HandleJoin(context.Background(), sess, documentID)
		})

		socket.On(EventTextChange, func(datas ...any) {
			if len(datas) == 0 {
				sess.Emit(EventError, msgBadPayload)
				return
			}
			engine.HandleTextChange(context.Background(), sess, datas[0])
		})

		socket.On("disconnecting", func(datas ...any) {
			engine.HandleDisconnect(sess)
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

// authenticateSocket verifies the credential presented in the socket.io
// handshake. The principal it yields is fixed for the connection's lifetime.
func authenticateSocket(socket *socketio.Socket) (*auth.AppClaims, error) {
	handshake := socket.Handshake()
	if handshake == nil {
		return nil, errors.New("missing handshake")
	}

	token := ""
	if authData, ok := handshake.Auth.(map[string]any); ok {
		token, _ = authData["token"].(string)
	}
	if token == "" {
		return nil, errors.New("missing credential")
	}

	return auth.ParseJWT(token)
}

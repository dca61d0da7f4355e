// Package ws serves generated chunks over a websocket feed.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/protocol"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/pipeline"
)

// ChunkSource is satisfied by pipeline.Cache.
type ChunkSource interface {
	Get(ctx context.Context, c chunk.Coord) (*chunk.Chunk, error)
	Peek(c chunk.Coord) (*chunk.Chunk, error)
}

type Server struct {
	src  ChunkSource
	meta protocol.WorldMeta
	log  *log.Logger

	// maxInFlight bounds concurrent requests per connection.
	maxInFlight int

	upgrader websocket.Upgrader
}

func NewServer(src ChunkSource, meta protocol.WorldMeta, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[feed] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		src:         src,
		meta:        meta,
		log:         logger,
		maxInFlight: 4,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.log.Printf("client %q connected from %s", client, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}

		sem := make(chan struct{}, s.maxInFlight)
		var wg sync.WaitGroup

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				send(protocol.NewError("", protocol.ErrProtoBadRequest, "malformed JSON"))
				continue
			}
			if base.Type != protocol.TypeChunkReq {
				send(protocol.NewError("", protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type)))
				continue
			}
			if err := protocol.Validate(protocol.SchemaChunkReq, msg); err != nil {
				send(protocol.NewError("", protocol.ErrBadRequest, err.Error()))
				continue
			}
			var req protocol.ChunkReqMsg
			if err := json.Unmarshal(msg, &req); err != nil {
				send(protocol.NewError("", protocol.ErrBadRequest, err.Error()))
				continue
			}
			if req.ProtocolVersion != protocol.Version {
				send(protocol.NewError(req.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version"))
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(req protocol.ChunkReqMsg) {
				defer wg.Done()
				defer func() { <-sem }()
				send(s.serve(ctx, req))
			}(req)
		}
		wg.Wait()
		s.log.Printf("client %q disconnected", client)
	}
}

func (s *Server) serve(ctx context.Context, req protocol.ChunkReqMsg) any {
	c := chunk.Coord{CX: req.CX, CZ: req.CZ}
	var (
		ch  *chunk.Chunk
		err error
	)
	if req.Peek {
		ch, err = s.src.Peek(c)
	} else {
		ch, err = s.src.Get(ctx, c)
	}
	if err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, chunkfile.ErrNotFound) || errors.Is(err, pipeline.ErrMissingRaw) {
			code = protocol.ErrNotFound
		}
		s.log.Printf("chunk %s: %v", c, err)
		return protocol.NewError(req.ReqID, code, err.Error())
	}
	doc, err := protocol.NewChunkDoc(ch, s.meta.WorldID, s.meta.Seed, s.meta.HeightQuantumM)
	if err != nil {
		return protocol.NewError(req.ReqID, protocol.ErrInternal, err.Error())
	}
	return protocol.ChunkMsg{
		Type:            protocol.TypeChunk,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Chunk:           doc,
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		World:           s.meta,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	return hello.ClientName, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

package server

import (
	"bytes"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"photobooth/internal/imageio"
)

const previewWriteWait = 2 * time.Second

// handlePreview runs the live preview loop: the client sends camera frames
// as binary messages and gets each one back blended with the current
// overlay as a JPEG. ?mirror=false disables the mirror view.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	mirror := s.preview.Mirror
	if v := r.URL.Query().Get("mirror"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			mirror = b
		}
	}
	quality := s.preview.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("preview upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	if s.preview.MaxFrameBytes > 0 {
		conn.SetReadLimit(s.preview.MaxFrameBytes)
	}
	s.log.Debug("preview client connected", "remote", r.RemoteAddr, "mirror", mirror)

	var buf bytes.Buffer
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("preview client gone", "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		frame, err := imageio.Decode(bytes.NewReader(data), "preview frame")
		if err != nil {
			conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if werr := conn.WriteMessage(websocket.TextMessage, []byte(err.Error())); werr != nil {
				return
			}
			continue
		}

		out := s.blender.Apply(frame, mirror)
		buf.Reset()
		if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			s.log.Error("preview encode failed", "error", err)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			return
		}
	}
}

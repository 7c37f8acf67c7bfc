package handlers

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/pkg/dto"
)

const maxFrameBytes = 10 << 20

// readFrame takes the frame from a multipart "image" file or from base64
// frame_data, with or without a data URL prefix. The remaining fields of the
// request come back in req.
func readFrame(c *gin.Context) ([]byte, dto.FrameRequest, error) {
	var req dto.FrameRequest

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req.Pose = c.PostForm("pose")
		req.Camera = c.PostForm("camera")
		req.FrameData = c.PostForm("frame_data")

		if fh, err := c.FormFile("image"); err == nil {
			f, err := fh.Open()
			if err != nil {
				return nil, req, fmt.Errorf("open image: %w", err)
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, maxFrameBytes+1))
			if err != nil {
				return nil, req, fmt.Errorf("read image: %w", err)
			}
			if len(data) > maxFrameBytes {
				return nil, req, fmt.Errorf("%w: image exceeds %d bytes", errBadFrame, maxFrameBytes)
			}
			if len(data) == 0 {
				return nil, req, errBadFrame
			}
			return data, req, nil
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		return nil, req, fmt.Errorf("%w: %v", errBadFrame, err)
	}

	data, err := decodeFrameData(req.FrameData)
	return data, req, err
}

func decodeFrameData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errBadFrame
	}
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", errBadFrame)
		}
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadFrame, err)
		}
	}
	if len(data) == 0 {
		return nil, errBadFrame
	}
	return data, nil
}

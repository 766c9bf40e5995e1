package arf

import (
	"fmt"

	"github.com/gregLibert/secure-element/pkg/cardlink"
	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/rs/zerolog"
)

// fileReader reads transparent files of the application selected on one channel.
type fileReader struct {
	client *iso7816.Client
	cls    iso7816.Class
	logger zerolog.Logger
	onFile FileHook
}

func newFileReader(link cardlink.Link, channel uint8, maxContinuations int, logger zerolog.Logger, onFile FileHook) (*fileReader, error) {
	cls, err := iso7816.NewInterindustryClass(false, iso7816.SMNone, channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCardLink, err)
	}
	return &fileReader{
		client: &iso7816.Client{Card: cardlink.On(link, channel), MaxContinuations: maxContinuations},
		cls:    cls,
		logger: logger,
		onFile: onFile,
	}, nil
}

// decode reads the file at path and decodes it as simple-TLV.
func (f *fileReader) decode(path []byte) (*tlv.Node, error) {
	data, err := f.read(path)
	if err != nil {
		return nil, err
	}
	content := tlv.Decode(data)
	if f.onFile != nil {
		f.onFile(path, content)
	}
	return content, nil
}

// read selects the file at path and reads its whole content. The size
// announced in the FCP drives the READ BINARY chunks; without it a single
// maximal read is issued.
func (f *fileReader) read(path []byte) ([]byte, error) {
	cmd, err := iso7816.SelectFile(f.cls, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	trace, err := f.client.Send(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: select %X: %v", ErrCardLink, path, err)
	}
	sel, err := iso7816.NewSelectResult(trace)
	if err != nil {
		return nil, fmt.Errorf("%w: select %X: %v", ErrProtocol, path, err)
	}
	if e := f.logger.Trace(); e.Enabled() {
		e.Hex("path", path).Str("report", sel.Describe()).Msg("select exchange")
	}
	if !sel.IsSuccess() {
		return nil, fmt.Errorf("%w: select %X failed: %s", ErrProtocol, path, sel.Last().Response.Status.Verbose())
	}

	size, known := sel.FileSize()
	if !known {
		return f.readChunk(path, 0, iso7816.MaxShortLe)
	}

	data := make([]byte, 0, size)
	for len(data) < size {
		chunk, err := f.readChunk(path, len(data), min(size-len(data), iso7816.MaxShortLe))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		data = append(data, chunk...)
	}

	f.logger.Debug().Hex("path", path).Int("size", len(data)).Msg("file read")
	return data, nil
}

func (f *fileReader) readChunk(path []byte, offset, length int) ([]byte, error) {
	cmd, err := iso7816.ReadBinary(f.cls, offset, length)
	if err != nil {
		return nil, fmt.Errorf("%w: file %X: %v", ErrProtocol, path, err)
	}
	trace, err := f.client.Send(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: read %X at %d: %v", ErrCardLink, path, offset, err)
	}
	res, err := iso7816.NewReadBinaryResult(trace)
	if err != nil {
		return nil, fmt.Errorf("%w: read %X: %v", ErrProtocol, path, err)
	}
	if e := f.logger.Trace(); e.Enabled() {
		e.Hex("path", path).Int("offset", offset).Str("report", res.Describe()).Msg("read exchange")
	}

	data := res.Data()
	if data == nil {
		return nil, fmt.Errorf("%w: read %X at %d failed: %s", ErrProtocol, path, offset, res.Last().Response.Status.Verbose())
	}
	return data, nil
}

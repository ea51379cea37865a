package hdf5

import "fmt"

// MessageInfo summarises one object header message.
type MessageInfo struct {
	Type   string
	Flags  uint8
	Size   int
	Shared bool
}

// HeaderInfo summarises the object header of one object, for debugging.
type HeaderInfo struct {
	Address  uint64
	Version  uint8
	Kind     ObjectKind
	Messages []MessageInfo
}

// Header returns the object header of the object at path p.
func (f *File) Header(p string) (*HeaderInfo, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	addr, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	oh, err := f.readHeader(addr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	info := &HeaderInfo{Address: addr, Version: oh.Version, Kind: kindOf(oh.Type())}
	for _, m := range oh.Messages {
		info.Messages = append(info.Messages, MessageInfo{
			Type:   m.Type.String(),
			Flags:  m.Flags,
			Size:   len(m.Data),
			Shared: m.IsShared(),
		})
	}
	return info, nil
}

package mdf4

import "encoding/binary"

const fileHistoryBlockTag = "##FH"

// fileHistoryLinkCount is the number of links carried by an FH block:
// next FH, comment (MD).
const fileHistoryLinkCount = 2

// FileHistoryBlock records one entry in the singleton-per-edit-chain
// history list reached from the HD block's FirstFileHistory link.
type FileHistoryBlock struct {
	Offset  uint64
	NextFH  uint64
	Comment uint64

	TimeNS   uint64
	ToolID   string
}

func readFileHistoryBlock(data []byte, offset uint64) (FileHistoryBlock, error) {
	h, links, err := readBlockHeader(data, offset)
	if err != nil {
		return FileHistoryBlock{}, err
	}
	if err := expectTag(h, offset, fileHistoryBlockTag); err != nil {
		return FileHistoryBlock{}, err
	}
	if len(links) < fileHistoryLinkCount {
		return FileHistoryBlock{}, &InvalidDataError{Context: "FH block has too few links"}
	}

	payload := payloadOffset(offset, h.LinkCount)
	if payload+10 > uint64(len(data)) {
		return FileHistoryBlock{}, &InvalidDataError{Context: "FH payload truncated"}
	}
	body := data[payload:]

	toolID := string(body[10:])
	if n := indexByte(toolID, 0); n >= 0 {
		toolID = toolID[:n]
	}

	return FileHistoryBlock{
		Offset:  offset,
		NextFH:  links[0],
		Comment: links[1],
		TimeNS:  binary.LittleEndian.Uint64(body[0:8]),
		ToolID:  toolID,
	}, nil
}

// readFileHistoryChain walks the FH linked list starting at firstFH,
// rejecting cycles the same way the CC chain walk does.
func readFileHistoryChain(data []byte, firstFH uint64) ([]FileHistoryBlock, error) {
	var chain []FileHistoryBlock
	visited := make(map[uint64]bool)
	offset := firstFH
	for offset != 0 {
		if visited[offset] {
			return nil, &InvalidDataError{Context: "cycle in file history chain"}
		}
		visited[offset] = true

		fh, err := readFileHistoryBlock(data, offset)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fh)
		offset = fh.NextFH
	}
	return chain, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

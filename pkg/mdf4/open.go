package mdf4

// File is a convenience wrapper combining an mmap-backed source, its
// fully walked tree, and a derived index, for callers that just want to
// open a path and start extracting channels.
//
// Grounded on internal/mcfstore.File's Open/Close/lookup-by-name shape,
// generalized from a tensor-index lookup to an MDF4 tree plus index.
type File struct {
	source *MmapSource
	Tree   *Tree
	Index  *FileIndex
}

// Open memory-maps path, walks it in full, and derives an index from the
// resulting tree.
func Open(path string) (*File, error) {
	source, err := OpenMmapSource(path)
	if err != nil {
		return nil, err
	}

	tree, err := Walk(source)
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	return &File{
		source: source,
		Tree:   tree,
		Index:  BuildIndexFromTree(tree),
	}, nil
}

// Close unmaps the underlying file.
func (f *File) Close() error {
	if f == nil || f.source == nil {
		return nil
	}
	err := f.source.Close()
	f.source = nil
	return err
}

// ExtractChannel extracts one channel's decoded values by group/channel
// index, reading fragments directly from the mmap-backed source.
func (f *File) ExtractChannel(groupIdx, channelIdx int) ([]DecodedValue, error) {
	return ExtractChannel(f.source, f.Index, groupIdx, channelIdx)
}

// ChannelByName finds the first (group, channel) pair whose channel name
// matches name. groupIdx indexes f.Index.Groups, which is flattened one
// entry per channel group in the same (data group, channel group) order
// BuildIndexFromTree walks — not the data group index.
func (f *File) ChannelByName(name string) (groupIdx, channelIdx int, ok bool) {
	flat := 0
	for _, dgn := range f.Tree.Groups {
		for _, cgn := range dgn.Groups {
			for ci, ch := range cgn.Channels {
				if ch.Name == name {
					return flat, ci, true
				}
			}
			flat++
		}
	}
	return 0, 0, false
}

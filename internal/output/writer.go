package output

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/keagan/keyframer/internal/cluster"
	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/frames"
	"github.com/keagan/keyframer/pkg/util"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
)

// Options configures how key frames are encoded.
type Options struct {
	Format Format
	// MaxWidth downscales wider frames before encoding; 0 keeps full size.
	MaxWidth int
}

// Lookup returns the decoded frame with the given index.
type Lookup func(index int) (frames.Frame, bool)

// Writer writes key frames as keyframe_<rank>.<ext> into a directory.
type Writer struct {
	logger zerolog.Logger
	dir    string
	opts   Options
}

// NewWriter creates a writer for dir.
func NewWriter(logger zerolog.Logger, dir string, opts Options) *Writer {
	if opts.Format == "" {
		opts.Format = PNG
	}
	return &Writer{
		logger: logger.With().Str("component", "writer").Logger(),
		dir:    dir,
		opts:   opts,
	}
}

// Path returns the file a key frame of the given rank is written to.
func (w *Writer) Path(rank int) string {
	return filepath.Join(w.dir, fmt.Sprintf("keyframe_%d.%s", rank, w.opts.Format.Ext()))
}

// Write creates the directory if needed and writes each key frame in order,
// replacing files of the same name. Files written before a failure are left
// in place. It returns the paths written.
func (w *Writer) Write(ctx context.Context, keys []cluster.KeyFrame, lookup Lookup) ([]string, error) {
	if err := util.EnsureDir(w.dir); err != nil {
		return nil, errs.IO(err, "create output directory %s", w.dir)
	}

	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		f, ok := lookup(k.FrameIndex)
		if !ok {
			return paths, fmt.Errorf("key frame %d: frame %d not retained", k.Rank, k.FrameIndex)
		}
		path := w.Path(k.Rank)
		if err := w.writeFile(path, w.scale(f.Image())); err != nil {
			return paths, err
		}
		paths = append(paths, path)

		w.logger.Debug().
			Int("rank", k.Rank).
			Int("frame", k.FrameIndex).
			Int("cluster_size", k.ClusterSize).
			Str("path", path).
			Msg("wrote key frame")
	}

	w.logger.Info().Int("keyframes", len(paths)).Str("dir", w.dir).Msg("key frames written")
	return paths, nil
}

func (w *Writer) scale(img image.Image) image.Image {
	if w.opts.MaxWidth <= 0 || img.Bounds().Dx() <= w.opts.MaxWidth {
		return img
	}
	return resize.Resize(uint(w.opts.MaxWidth), 0, img, resize.Lanczos3)
}

func (w *Writer) writeFile(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return errs.IO(err, "create %s", path)
	}
	if err := w.opts.Format.encode(file, img); err != nil {
		file.Close()
		return errs.IO(err, "encode %s", path)
	}
	if err := file.Close(); err != nil {
		return errs.IO(err, "close %s", path)
	}
	return nil
}

var keyframeName = regexp.MustCompile(`^keyframe_(\d+)\.(png|jpg|bmp|tiff)$`)

// Existing lists key-frame images already present in dir, ordered by rank.
// A missing directory yields no files.
func Existing(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.IO(err, "read output directory %s", dir)
	}

	type ranked struct {
		rank int
		path string
	}
	var found []ranked
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := keyframeName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		rank, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, ranked{rank, filepath.Join(dir, e.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].rank < found[j].rank })

	paths := make([]string, len(found))
	for i, r := range found {
		paths[i] = r.path
	}
	return paths, nil
}

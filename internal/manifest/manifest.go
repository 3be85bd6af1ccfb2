package manifest

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gitdeps/fetcher/internal/transfer"
)

// Commit.gitdeps.xml shape: a DependencyManifest root with a BaseUrl
// attribute and a Packs/Pack list describing each content-addressed blob.
type dependencyManifest struct {
	XMLName xml.Name `xml:"DependencyManifest"`
	BaseURL string   `xml:"BaseUrl,attr"`
	Packs   []pack   `xml:"Packs>Pack"`
}

// Numeric attrs stay strings through unmarshaling so an absent attribute is
// distinguishable from a literal zero.
type pack struct {
	RemotePath     string `xml:"RemotePath,attr"`
	Hash           string `xml:"Hash,attr"`
	Size           string `xml:"Size,attr"`
	CompressedSize string `xml:"CompressedSize,attr"`
}

// Parse reads a Commit.gitdeps.xml file and returns one download item per
// pack, with URL <BaseUrl>/<RemotePath>/<Hash> and destination
// <RemotePath>/<Hash>.
func Parse(path string) ([]transfer.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return parseBytes(data)
}

func parseBytes(data []byte) ([]transfer.Item, error) {
	var m dependencyManifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if m.BaseURL == "" {
		return nil, fmt.Errorf("invalid manifest: missing BaseUrl")
	}

	base := strings.TrimRight(m.BaseURL, "/")
	items := make([]transfer.Item, 0, len(m.Packs))

	for i, p := range m.Packs {
		if p.Hash == "" || p.RemotePath == "" {
			return nil, fmt.Errorf("invalid manifest: pack %d missing RemotePath or Hash", i)
		}

		size, err := packAttr(i, "Size", p.Size)
		if err != nil {
			return nil, err
		}

		compressedSize, err := packAttr(i, "CompressedSize", p.CompressedSize)
		if err != nil {
			return nil, err
		}

		remotePath := strings.Trim(p.RemotePath, "/")

		items = append(items, transfer.Item{
			URL:            base + "/" + remotePath + "/" + p.Hash,
			Dest:           remotePath + "/" + p.Hash,
			Hash:           p.Hash,
			Size:           size,
			CompressedSize: compressedSize,
		})
	}

	return items, nil
}

func packAttr(i int, name, value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid manifest: pack %d missing %s", i, name)
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid manifest: pack %d has invalid %s %q", i, name, value)
	}

	return n, nil
}

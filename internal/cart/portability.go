package cart

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/macrobox/macrobox-cli/internal/model"
)

// Export writes the current lines as a JSON array.
func (s *Store) Export(w io.Writer) error {
	lines := s.Lines()
	if lines == nil {
		lines = []model.CartLine{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(lines); err != nil {
		return fmt.Errorf("encode cart export: %w", err)
	}
	return nil
}

// Import replaces the cart with the lines read from r. Unlike Open, a
// malformed document is an error and leaves the cart untouched.
func (s *Store) Import(r io.Reader) (int, error) {
	var lines []model.CartLine
	if err := json.NewDecoder(r).Decode(&lines); err != nil {
		return 0, fmt.Errorf("decode cart import: %w", err)
	}
	s.Replace(lines)
	return s.Len(), nil
}

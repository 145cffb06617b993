package account

// staticStore serves a single blob to Load.
type staticStore string

func (s staticStore) Get(key, fallback string) (string, error) {
	if key != settingsKey || s == "" {
		return fallback, nil
	}
	return string(s), nil
}

func (staticStore) Set(string, string) error { return nil }

// Import decodes an account document exported from another store, possibly
// in an older layout, and saves it to dst in the current layout. dst is left
// untouched when the document does not load.
func Import(blob []byte, dst BackingStore, opts ...Option) (*State, error) {
	st, err := Load(staticStore(blob), opts...)
	if err != nil {
		return nil, err
	}
	if err := Save(st, dst); err != nil {
		return nil, err
	}
	return st, nil
}

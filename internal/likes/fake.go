package likes

import "context"

// FakeSource is an in-memory Source for tests.
type FakeSource struct {
	Edges []Edge
	Err   error
}

func (f *FakeSource) LoadAllLikes(ctx context.Context) ([]Edge, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Edges, nil
}

package mocksource

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aaron/tierhub/internal/player"
)

type Source struct {
	mock.Mock
}

func (s *Source) FetchPlayers(ctx context.Context, key player.Key) ([]player.Record, error) {
	args := s.Called(ctx, key)

	var res []player.Record
	if args.Get(0) != nil {
		res = args.Get(0).([]player.Record)
	}

	return res, args.Error(1)
}

func (s *Source) SampleFallback(pos player.Position) []player.Record {
	args := s.Called(pos)

	var res []player.Record
	if args.Get(0) != nil {
		res = args.Get(0).([]player.Record)
	}

	return res
}

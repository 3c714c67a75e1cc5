package s3infra

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPutter struct{ mock.Mock }

func (m *mockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func TestArchive_StoreKeysByDay(t *testing.T) {
	putter := new(mockPutter)
	a := NewArchive(putter, "bounces", "sns")
	a.now = func() time.Time { return time.Date(2026, 5, 6, 23, 0, 0, 0, time.UTC) }

	var body []byte
	putter.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "bounces" && *in.Key == "sns/notification/2026/05/06/msg-1.json"
	})).Run(func(args mock.Arguments) {
		body, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
	}).Return(&s3.PutObjectOutput{}, nil)

	url, err := a.Store(context.Background(), "notification", "msg-1", []byte(`{"Type":"Notification"}`))
	require.NoError(t, err)
	assert.Equal(t, "s3://bounces/sns/notification/2026/05/06/msg-1.json", url)
	assert.JSONEq(t, `{"Type":"Notification"}`, string(body))
	putter.AssertExpectations(t)
}

func TestArchive_StoreWrapsError(t *testing.T) {
	putter := new(mockPutter)
	a := NewArchive(putter, "bounces", "")
	putter.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	_, err := a.Store(context.Background(), "notification", "msg-1", nil)
	assert.ErrorContains(t, err, "s3 put object")
}

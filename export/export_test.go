package export

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nijaru/yt-mentions/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rows = []models.Mention{
	{VideoTitle: "SQL basics", TimestampURL: "https://www.youtube.com/watch?v=a&t=6s", Text: " Learn SQL, today."},
	{VideoTitle: "Joins  explained", TimestampURL: "https://www.youtube.com/watch?v=b&t=0s", Text: ` "sql" joins`},
}

func TestCSV(t *testing.T) {
	data, err := CSV(rows)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"video_title", "timestamp_url", "text"}, records[0])
	assert.Equal(t, []string{"SQL basics", "https://www.youtube.com/watch?v=a&t=6s", " Learn SQL, today."}, records[1])
	assert.Equal(t, ` "sql" joins`, records[2][2])
}

func TestCSV_Empty(t *testing.T) {
	data, err := CSV(nil)
	require.NoError(t, err)
	assert.Equal(t, "video_title,timestamp_url,text\n", string(data))
}

func TestDataURI(t *testing.T) {
	data, err := CSV(rows)
	require.NoError(t, err)

	uri := DataURI(data)
	require.True(t, strings.HasPrefix(uri, "data:file/csv;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:file/csv;base64,"))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestSpacesUploader_Upload(t *testing.T) {
	fake := &fakePutter{}
	u := &SpacesUploader{client: fake, bucket: "exports-bucket"}

	key, err := u.Upload(context.Background(), "run-1", []byte("a,b,c\n"))
	require.NoError(t, err)

	assert.Equal(t, "exports/run-1.csv", key)
	assert.Equal(t, "exports-bucket", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "exports/run-1.csv", aws.ToString(fake.input.Key))
	assert.Equal(t, "text/csv", aws.ToString(fake.input.ContentType))
	assert.Equal(t, "a,b,c\n", fake.body)
}

func TestSpacesUploader_Error(t *testing.T) {
	u := &SpacesUploader{client: &fakePutter{err: errors.New("denied")}, bucket: "b"}

	_, err := u.Upload(context.Background(), "run-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exports/run-1.csv")
}

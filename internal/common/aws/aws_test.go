package aws

import (
	"context"
	stderrors "errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: awssdk.String("ses-1")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	return &sns.PublishOutput{MessageId: awssdk.String("sns-1")}, nil
}

func TestSESClient_Send(t *testing.T) {
	fake := &fakeSES{}
	c := &SESClient{client: fake, from: "hello@example.com"}

	id, err := c.Send(context.Background(), EmailMessage{
		To:       "alex@example.com",
		Subject:  "Welcome",
		TextBody: "plain",
	})

	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	assert.Equal(t, "hello@example.com", awssdk.ToString(fake.input.Source))
	assert.Equal(t, []string{"alex@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "plain", awssdk.ToString(fake.input.Message.Body.Text.Data))
	assert.Nil(t, fake.input.Message.Body.Html)
}

func TestSESClient_Send_Error(t *testing.T) {
	c := &SESClient{client: &fakeSES{err: stderrors.New("throttled")}, from: "hello@example.com"}

	_, err := c.Send(context.Background(), EmailMessage{To: "alex@example.com", HTMLBody: "<p>x</p>"})
	assert.EqualError(t, err, "throttled")
}

func TestSNSClient_PublishAlert(t *testing.T) {
	fake := &fakeSNS{}
	c := &SNSClient{client: fake, topicARN: "arn:aws:sns:us-east-1:123:onboarding"}

	id, err := c.PublishAlert(context.Background(), Alert{
		Subject:    "New advertiser",
		Message:    "acc-1 activated",
		Attributes: map[string]string{"plan": "pro"},
	})

	require.NoError(t, err)
	assert.Equal(t, "sns-1", id)
	assert.Equal(t, "arn:aws:sns:us-east-1:123:onboarding", awssdk.ToString(fake.input.TopicArn))
	assert.Equal(t, "pro", awssdk.ToString(fake.input.MessageAttributes["plan"].StringValue))
}

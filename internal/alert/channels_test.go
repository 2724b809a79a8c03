package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedChannels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		typ  Type
		want []Channel
	}{
		{Type2Hour, []Channel{ChannelSMS, ChannelPush, ChannelInApp}},
		{Type4Hour, []Channel{ChannelSMS, ChannelInApp}},
		{TypeSameDay, AllChannels},
		{TypeConflict, AllChannels},
		{TypeHighRisk, AllChannels},
		{Type24Hour, []Channel{ChannelEmail, ChannelInApp}},
		{Type48Hour, []Channel{ChannelEmail}},
		{TypeOverdue, AllChannels},
		{TypeResponseReceived, AllChannels},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AllowedChannels(tt.typ), "AllowedChannels(%s)", tt.typ)
	}
	assert.NotContains(t, AllowedChannels(Type2Hour), ChannelEmail)
}

func TestAllowedChannelsReturnsCopy(t *testing.T) {
	t.Parallel()
	got := AllowedChannels(TypeOverdue)
	got[0] = ChannelSMS
	assert.Equal(t, ChannelEmail, AllChannels[0])
}

func TestDeliveredChannels(t *testing.T) {
	t.Parallel()
	full := Subscription{
		ChannelEmail: true, ChannelSMS: true, ChannelPush: true, ChannelInApp: true,
		EmailAddress: "crew@example.com", PhoneNumber: "+13045550100",
	}

	assert.Equal(t, AllChannels, DeliveredChannels(TypeOverdue, full))
	assert.Equal(t, []Channel{ChannelEmail}, DeliveredChannels(Type48Hour, full))

	noPhone := full
	noPhone.PhoneNumber = " "
	assert.Equal(t, []Channel{ChannelPush, ChannelInApp}, DeliveredChannels(Type2Hour, noPhone))

	emailOff := full
	emailOff.ChannelEmail = false
	assert.Empty(t, DeliveredChannels(Type48Hour, emailOff))

	noEmail := full
	noEmail.EmailAddress = ""
	assert.Equal(t, []Channel{ChannelInApp}, DeliveredChannels(Type24Hour, noEmail))
}

func TestSubscriptionWantsAlert(t *testing.T) {
	t.Parallel()
	sub := Subscription{OptIns: map[Type]OptIn{
		Type48Hour: OptInDisabled,
		Type24Hour: OptInEnabled,
	}}
	assert.False(t, sub.WantsAlert(Type48Hour))
	assert.True(t, sub.WantsAlert(Type24Hour))
	assert.True(t, sub.WantsAlert(TypeSameDay), "unset flags default to opted in")
	assert.True(t, Subscription{}.WantsAlert(TypeOverdue), "nil map defaults to opted in")
}

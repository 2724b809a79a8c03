package alert

var routeTable = map[Type][]Channel{
	Type2Hour:    {ChannelSMS, ChannelPush, ChannelInApp},
	Type4Hour:    {ChannelSMS, ChannelInApp},
	TypeSameDay:  AllChannels,
	TypeConflict: AllChannels,
	TypeHighRisk: AllChannels,
	Type24Hour:   {ChannelEmail, ChannelInApp},
	Type48Hour:   {ChannelEmail},
}

// AllowedChannels returns the channels t may use regardless of subscriber
// settings. The result is a fresh slice in routing order.
func AllowedChannels(t Type) []Channel {
	chs, ok := routeTable[t]
	if !ok {
		chs = AllChannels
	}
	return append([]Channel(nil), chs...)
}

// DeliveredChannels intersects the allowed set for t with what sub enabled
// and has contact details for.
func DeliveredChannels(t Type, sub Subscription) []Channel {
	var out []Channel
	for _, c := range AllowedChannels(t) {
		if sub.ChannelEnabled(c) && sub.HasContactFor(c) {
			out = append(out, c)
		}
	}
	return out
}

// Package interfaces defines the collaborator contracts the chat core
// depends on but does not implement: the delivery channel that moves bytes
// to other participants, the image compression primitive, and the settings
// store for notification preferences.
//
// Keeping these abstractions in a dependency-free package lets every other
// package import them without cycles, and lets tests substitute simulated
// implementations:
//
//	type fakeChannel struct{}
//
//	func (fakeChannel) SendText(ctx context.Context, id, body string) error {
//	    return nil
//	}
//
//	func (fakeChannel) SendImage(ctx context.Context, id string, payload []byte, progress func(int)) (string, error) {
//	    return "https://example.com/i/1", nil
//	}
//
// The production implementation of [DeliveryChannel] shipped with this
// module is transport.WebsocketChannel.
package interfaces

package wa

import (
	"github.com/matheus3301/wppmon/internal/ingest"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// NormalizeMessage converts a live whatsmeow message into the pipeline's
// inbound shape. All nil handling for the protocol types happens here.
func NormalizeMessage(evt *events.Message, groupName string) ingest.RawInboundEvent {
	if evt == nil {
		return ingest.RawInboundEvent{}
	}
	info := evt.Info
	return ingest.RawInboundEvent{
		SourceMessageID:  info.ID,
		ConversationID:   jidString(info.Chat),
		ConversationName: groupName,
		IsGroup:          info.IsGroup,
		SenderID:         jidString(info.Sender),
		SenderName:       info.PushName,
		Body:             extractTextBody(evt.Message),
		FromMe:           info.IsFromMe,
		Timestamp:        info.Timestamp,
	}
}

// NormalizeJID strips the device suffix from a JID string so the same
// account always maps to one identifier. Unparseable input is returned as is.
func NormalizeJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}

func jidString(jid types.JID) string {
	if jid.IsEmpty() {
		return ""
	}
	return jid.ToNonAD().String()
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

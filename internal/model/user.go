package model

type AutoReplySettings struct {
	Enabled    bool          `db:"auto_reply_enabled" json:"enabled"`
	Mode       AutoReplyMode `db:"auto_reply_mode" json:"mode"`
	CustomText *string       `db:"auto_reply_custom_text" json:"customText,omitempty"`
}

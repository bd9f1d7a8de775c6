package capability

import (
	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

// Builtins is the capability catalog every deployment starts with. Lua
// scripts from the config extend it; they never replace these contracts.
func Builtins() []*Descriptor {
	return []*Descriptor{
		{
			Name:      "httpRequest",
			Alias:     "http",
			ClassName: "HttpRequest",
			Kind:      pkgcap.KindService,
			Params: map[string]pkgcap.ParamSpec{
				"url":     {Type: "string", Required: true},
				"method":  {Type: "string"},
				"headers": {Type: "object"},
				"body":    {Type: "object"},
			},
			Result: map[string]pkgcap.ParamSpec{
				"status":  {Type: "number"},
				"headers": {Type: "object"},
				"body":    {Type: "object"},
			},
		},
		{
			Name:      "sendEmail",
			Alias:     "email",
			ClassName: "SendEmail",
			Kind:      pkgcap.KindTool,
			Params: map[string]pkgcap.ParamSpec{
				"to":      {Type: "string", Required: true},
				"subject": {Type: "string", Required: true},
				"body":    {Type: "string", Required: true},
			},
			Result: map[string]pkgcap.ParamSpec{
				"messageId": {Type: "string"},
			},
			RequiredCredentialTypes: []string{"SMTP"},
		},
		{
			Name:      "databaseQuery",
			Alias:     "db",
			ClassName: "DatabaseQuery",
			Kind:      pkgcap.KindTool,
			Params: map[string]pkgcap.ParamSpec{
				"query":  {Type: "string", Required: true},
				"values": {Type: "array"},
			},
			Result: map[string]pkgcap.ParamSpec{
				"rows": {Type: "array"},
			},
			RequiredCredentialTypes: []string{"DATABASE"},
		},
		{
			Name:      "aiAgent",
			Alias:     "agent",
			ClassName: "AiAgent",
			Kind:      pkgcap.KindAgent,
			Params: map[string]pkgcap.ParamSpec{
				"prompt":       {Type: "string", Required: true},
				"tools":        {Type: "array"},
				"outputSchema": {Type: "object"},
			},
			Result: map[string]pkgcap.ParamSpec{
				"output": {Type: "object"},
			},
			RequiredCredentialTypes: []string{"AI_PROVIDER"},
		},
	}
}

// BuiltinEvents are the trigger event shapes the validator checks payload
// reads against.
func BuiltinEvents() []*pkgcap.EventDescriptor {
	return []*pkgcap.EventDescriptor{
		{
			Type:        "schedule/cron",
			PayloadType: "ScheduledEvent",
			Fields: map[string]pkgcap.FieldSpec{
				"scheduledAt": {Type: "string"},
			},
		},
		{
			Type:        "webhook/received",
			PayloadType: "WebhookEvent",
			Fields: map[string]pkgcap.FieldSpec{
				"path":    {Type: "string"},
				"body":    {Type: "object"},
				"headers": {Type: "object", Optional: true},
			},
		},
		{
			Type:        "email/received",
			PayloadType: "EmailEvent",
			Fields: map[string]pkgcap.FieldSpec{
				"from":        {Type: "string"},
				"subject":     {Type: "string"},
				"body":        {Type: "string"},
				"attachments": {Type: "array", Optional: true, File: true},
			},
		},
	}
}

// RegisterBuiltins loads the built-in catalog into r, binding the
// implementations that ship in-process.
func RegisterBuiltins(r *Registry) error {
	for _, d := range Builtins() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	for _, e := range BuiltinEvents() {
		if err := r.RegisterEvent(e); err != nil {
			return err
		}
	}
	return r.Bind("httpRequest", &HTTPCapability{})
}

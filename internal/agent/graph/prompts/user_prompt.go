package prompts

// userTemplate carries the session context and the message being handled.
// The message is always last so the model treats it as the question.
const userTemplate = `{{if .Memory}}<customer_memory>
{{.Memory}}
</customer_memory>
{{end}}{{if .History}}{{.History}}
{{end}}<current_message>
{{.Query}}
</current_message>`

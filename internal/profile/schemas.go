package profile

import "github.com/santhosh-tekuri/jsonschema/v5"

const userSchemaJSON = `{
  "type": "object",
  "required": ["id", "username"],
  "properties": {
    "id": {"type": "integer", "minimum": 1},
    "username": {"type": "string", "minLength": 1},
    "membership": {"type": "integer", "minimum": 0, "maximum": 255},
    "admin": {"type": "boolean"}
  }
}`

var (
	userSchema   = jsonschema.MustCompileString("user.json", userSchemaJSON)
	verifySchema = jsonschema.MustCompileString("verify.json", `{
  "type": "object",
  "required": ["user"],
  "properties": {"user": `+userSchemaJSON+`}
}`)
	ownsSchema = jsonschema.MustCompileString("owns.json", `{
  "type": "object",
  "required": ["owns"],
  "properties": {"owns": {"type": "boolean"}}
}`)
	grantSchema = jsonschema.MustCompileString("grant.json", `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "error": {"type": "string"}
  }
}`)
	avatarSchema = jsonschema.MustCompileString("avatar.json", `{
  "type": "object",
  "required": ["user_id"],
  "properties": {
    "user_id": {"type": "integer"},
    "colors": {"type": "object", "additionalProperties": {"type": "string"}},
    "items": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}}
  }
}`)
)

package api

// Amounts travel as decimal strings so no precision is lost to float64.
const amountPattern = `^[0-9]+(\\.[0-9]{1,8})?$`

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["sender", "recipient", "amount", "reason"],
  "properties": {
    "sender": {"type": "string", "minLength": 1, "maxLength": 32},
    "recipient": {"type": "string", "minLength": 1, "maxLength": 32},
    "amount": {"type": "string", "pattern": "` + amountPattern + `", "maxLength": 40},
    "apply_fees": {"type": "boolean"},
    "reason": {"type": "string", "minLength": 1, "maxLength": 64},
    "note": {"type": "string", "maxLength": 280}
  }
}`

const rateSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["rate"],
  "properties": {
    "rate": {"type": "integer"}
  }
}`

const feeScheduleSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["flat_fee", "percentage_fee"],
  "properties": {
    "flat_fee": {"type": "string", "pattern": "` + amountPattern + `", "maxLength": 40},
    "percentage_fee": {"type": "integer", "minimum": 0, "maximum": 1000}
  }
}`

const mintSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount"],
  "properties": {
    "amount": {"type": "string", "pattern": "` + amountPattern + `", "maxLength": 40}
  }
}`

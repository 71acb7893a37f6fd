package api

// JSON schemas enforced ahead of the handlers. Monetary amounts cross the
// wire as integer minor units (cents), matching how entities marshal.

const ledgerEntrySchema = `{
  "type": "object",
  "required": ["amount"],
  "properties": {
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "type": {"type": "string", "maxLength": 64},
    "description": {"type": "string", "maxLength": 512}
  },
  "additionalProperties": false
}`

const createLoanSchema = `{
  "type": "object",
  "required": ["borrower_id", "amount", "share_price", "monthly_payment"],
  "properties": {
    "borrower_id": {"type": "string", "minLength": 1},
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "share_price": {"type": "integer", "exclusiveMinimum": 0},
    "monthly_payment": {"type": "integer", "exclusiveMinimum": 0},
    "sponsorship_amount": {"type": "integer", "minimum": 0},
    "seeking_sponsor": {"type": "boolean"},
    "stretch_goals": {
      "type": "array",
      "items": {"type": "integer", "exclusiveMinimum": 0},
      "maxItems": 16
    }
  },
  "additionalProperties": false
}`

const fundLoanSchema = `{
  "type": "object",
  "required": ["funder_id", "shares"],
  "properties": {
    "funder_id": {"type": "string", "minLength": 1},
    "shares": {"type": "integer", "exclusiveMinimum": 0}
  },
  "additionalProperties": false
}`

const sponsorLoanSchema = `{
  "type": "object",
  "required": ["sponsor_id"],
  "properties": {
    "sponsor_id": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

const adViewSchema = `{
  "type": "object",
  "required": ["user_id", "gross_revenue"],
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "gross_revenue": {"type": "integer", "exclusiveMinimum": 0}
  },
  "additionalProperties": false
}`

const reserveAdjustSchema = `{
  "type": "object",
  "required": ["amount", "description"],
  "properties": {
    "amount": {"type": "integer"},
    "description": {"type": "string", "minLength": 1, "maxLength": 512}
  },
  "additionalProperties": false
}`

const createReferralSchema = `{
  "type": "object",
  "required": ["referrer_id", "referred_id"],
  "properties": {
    "referrer_id": {"type": "string", "minLength": 1},
    "referred_id": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

const referralSignupSchema = `{
  "type": "object",
  "required": ["referred_id"],
  "properties": {
    "referred_id": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

const referralCheckSchema = `{
  "type": "object",
  "required": ["user_id"],
  "properties": {
    "user_id": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

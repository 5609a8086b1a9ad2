package mcpserver

// SchemaFormatContract describes the schema files typegen reads, so LLM
// consumers can write models that generate the types they expect.
const SchemaFormatContract = `# typegen Schema Format

Schema files are YAML (` + "`" + `.yaml` + "`" + `, ` + "`" + `.yml` + "`" + `) or JSON documents under the models
directory. Each file contributes zero or more models.

## Model exports

A top-level key whose value has ` + "`" + `kind: Model` + "`" + ` and a ` + "`" + `schema` + "`" + ` map is one model.

` + "```" + `yaml
User:
  kind: Model
  name: User             # OPTIONAL – defaults to the key
  collection: users      # OPTIONAL – table name, defaults to the model name
  schema:
    email: { type: String, required: true, unique: true }
    age: Number
  options:
    timestamps: true     # adds createdAt and updatedAt (Date)
` + "```" + `

## Bare schemas

A file whose top level is a plain field map is a single model named after
the file: ` + "`" + `post.yaml` + "`" + ` becomes ` + "`" + `Post` + "`" + `.

## Field shapes

1. **Type marker**: ` + "`" + `title: String` + "`" + `
2. **Array wrapper**: ` + "`" + `tags: [String]` + "`" + ` or ` + "`" + `tags: { type: [String] }` + "`" + `
3. **Typed object**: ` + "`" + `{ type: String, required: false, enum: [a, b], ref: User, default: a }` + "`" + `
4. **Enum object**: ` + "`" + `{ enum: [a, b] }` + "`" + ` is a string enum
5. **Nested object**: a map without ` + "`" + `type` + "`" + ` or ` + "`" + `enum` + "`" + ` becomes an inline object

## Rules

1. Fields are **required unless** ` + "`" + `required: false` + "`" + ` is given.
2. Field order in the file is the member order in the generated interface.
3. Keys starting with ` + "`" + `_` + "`" + ` are skipped.
4. Markers: String, Number, Boolean, Date, Buffer, ObjectId, UUID, Mixed,
   Decimal128, BigInt, Map, Array. Unknown markers become ` + "`" + `any` + "`" + `.
5. References (` + "`" + `ref` + "`" + `) render as ` + "`" + `string` + "`" + `, or ` + "`" + `string | Target` + "`" + ` with
   ` + "`" + `resolve_references` + "`" + ` enabled.
6. Model names must be unique across the models directory.
`

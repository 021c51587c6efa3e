package config

// schema mirrors the teacher's pkg/metricstore/configSchema.go convention:
// a Go string literal holding a JSON Schema, compiled at validation time
// rather than loaded from an embedded file tree.
const schema = `{
  "type": "object",
  "description": "Configuration for the otlpshm collector.",
  "properties": {
    "shm-path": {
      "description": "Path to the shared-memory transport file the producer creates.",
      "type": "string"
    },
    "logs": {
      "type": "object",
      "properties": {
        "max-batch-size": { "type": "integer", "minimum": 1 },
        "batch-timeout": { "type": "string" }
      }
    },
    "spans": {
      "type": "object",
      "properties": {
        "max-batch-size": { "type": "integer", "minimum": 1 },
        "batch-timeout": { "type": "string" }
      }
    },
    "report-interval": {
      "description": "How often the metrics pipeline collects and emits a batch.",
      "type": "string"
    },
    "sinks": {
      "description": "Which external sinks to fan batches out to.",
      "type": "object",
      "properties": {
        "nats": {
          "type": "object",
          "properties": {
            "address": { "type": "string" },
            "username": { "type": "string" },
            "password": { "type": "string" },
            "creds-file": { "type": "string" },
            "logs-subject": { "type": "string" },
            "spans-subject": { "type": "string" },
            "metrics-subject": { "type": "string" }
          }
        },
        "avro": {
          "type": "object",
          "properties": {
            "directory": { "type": "string" }
          }
        },
        "line-protocol": {
          "type": "object",
          "properties": {
            "path": { "type": "string" }
          }
        }
      }
    },
    "health": {
      "type": "object",
      "properties": {
        "addr": { "type": "string" }
      }
    }
  },
  "required": ["shm-path"]
}`

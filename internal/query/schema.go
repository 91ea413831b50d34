package query

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

const schemaSDL = `
scalar Time
scalar JSON

enum InterfaceType { ORDER COLLECTION DISTRIBUTION VALIDATION }
enum ExceptionStatus { NEW ACKNOWLEDGED RETRIED_FAILED ESCALATED RESOLVED CLOSED }
enum Severity { LOW MEDIUM HIGH CRITICAL }
enum SortField { timestamp createdAt severity retryCount }
enum SortDirection { ASC DESC }

input DateRange {
  from: Time
  to: Time
}

input ExceptionFilter {
  interfaceTypes: [InterfaceType!]
  statuses: [ExceptionStatus!]
  severities: [Severity!]
  customerIds: [String!]
  dateRange: DateRange
  searchTerm: String
  excludeResolved: Boolean
}

input ExceptionSort {
  field: SortField
  direction: SortDirection
}

type Query {
  exception(transactionId: String!): InterfaceException
  exceptions(filter: ExceptionFilter, sort: ExceptionSort, first: Int, after: String): ExceptionConnection!
  exceptionSummary: ExceptionSummary!
}

type ExceptionConnection {
  edges: [ExceptionEdge!]!
  pageInfo: PageInfo!
  totalCount: Int!
}

type ExceptionEdge {
  cursor: String!
  node: InterfaceException!
}

type PageInfo {
  hasNextPage: Boolean!
  endCursor: String
}

type InterfaceException {
  id: ID!
  transactionId: String!
  interfaceType: InterfaceType!
  operation: String
  externalId: String
  exceptionReason: String!
  status: ExceptionStatus!
  severity: Severity!
  category: String!
  retryable: Boolean!
  retryCount: Int!
  maxRetries: Int!
  customerId: String
  locationCode: String
  correlationId: String
  timestamp: Time!
  processedAt: Time!
  createdAt: Time!
  updatedAt: Time!
  lastRetryAt: Time
  acknowledgedAt: Time
  acknowledgedBy: String
  acknowledgementNotes: String
  resolvedAt: Time
  resolvedBy: String
  resolutionMethod: String
  resolutionNotes: String
  originalPayload: JSON
  retryHistory: [RetryAttempt!]!
  statusHistory: [StatusChange!]!
}

type RetryAttempt {
  attemptNumber: Int!
  status: String!
  priority: String!
  reason: String
  initiatedBy: String!
  initiatedAt: Time!
  completedAt: Time
  resultSuccess: Boolean
  resultMessage: String
  resultResponseCode: Int
  resultErrorDetails: JSON
  cancelledBy: String
  cancelReason: String
  exception: InterfaceException!
}

type StatusChange {
  fromStatus: ExceptionStatus!
  toStatus: ExceptionStatus!
  changedBy: String!
  reason: String
  changedAt: Time!
}

type CountEntry {
  key: String!
  count: Int!
}

type ExceptionSummary {
  total: Int!
  byStatus: [CountEntry!]!
  byInterfaceType: [CountEntry!]!
}
`

// Schema is the read schema every document is validated against.
var Schema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSDL})
